package sim

import (
	"container/list"
	"sync"
)

// FIFONode represents a node in the FIFO queue
type FIFONode struct {
	frameIndex int
}

// FIFOReplacer implements FIFO (First-In First-Out) replacement policy.
// The head of the queue is the frame loaded longest ago.
type FIFOReplacer struct {
	capacity int
	fifoList *list.List
	fifoMap map[int]*list.Element
	mutex sync.Mutex
}

// NewFIFOReplacer creates a new FIFO replacer
func NewFIFOReplacer(capacity int) *FIFOReplacer {
	return &FIFOReplacer{
		capacity: capacity,
		fifoList: list.New(),
		fifoMap: make(map[int]*list.Element),
		mutex: sync.Mutex{},
	}
}

// Victim selects a frame to evict using FIFO policy
// Returns the frame index and true, or EmptyFrame and false if the queue is empty
func (fifo *FIFOReplacer) Victim() (int, bool) {
	fifo.mutex.Lock()
	defer fifo.mutex.Unlock()

	// FIFO victim is at the front of the list (loaded first)
	oldest := fifo.fifoList.Front()
	if oldest == nil {
		return EmptyFrame, false
	}

	node := oldest.Value.(*FIFONode)
	frameIndex := node.frameIndex

	// Remove from both list and map
	fifo.fifoList.Remove(oldest)
	delete(fifo.fifoMap, frameIndex)

	return frameIndex, true
}

// Oldest returns the frame Victim would pick without removing it
func (fifo *FIFOReplacer) Oldest() (int, bool) {
	fifo.mutex.Lock()
	defer fifo.mutex.Unlock()

	oldest := fifo.fifoList.Front()
	if oldest == nil {
		return EmptyFrame, false
	}

	return oldest.Value.(*FIFONode).frameIndex, true
}

// Admit appends a frame to the back of the FIFO queue
// Re-admitting a resident frame is a no-op: arrival order alone decides
// eviction, a later hit never refreshes a frame's position
func (fifo *FIFOReplacer) Admit(frameIndex int) {
	fifo.mutex.Lock()
	defer fifo.mutex.Unlock()

	if _, exists := fifo.fifoMap[frameIndex]; exists {
		return
	}

	node := &FIFONode{frameIndex: frameIndex}
	elem := fifo.fifoList.PushBack(node)
	fifo.fifoMap[frameIndex] = elem
}

// Reset clears the queue
func (fifo *FIFOReplacer) Reset() {
	fifo.mutex.Lock()
	defer fifo.mutex.Unlock()

	fifo.fifoList.Init()
	fifo.fifoMap = make(map[int]*list.Element)
}

// Size returns the number of frames in the queue
func (fifo *FIFOReplacer) Size() int {
	fifo.mutex.Lock()
	defer fifo.mutex.Unlock()

	return fifo.fifoList.Len()
}

// Order returns the queue contents from oldest to newest
func (fifo *FIFOReplacer) Order() []int {
	fifo.mutex.Lock()
	defer fifo.mutex.Unlock()

	order := make([]int, 0, fifo.fifoList.Len())
	for elem := fifo.fifoList.Front(); elem != nil; elem = elem.Next() {
		order = append(order, elem.Value.(*FIFONode).frameIndex)
	}
	return order
}
