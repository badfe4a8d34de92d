package sim

// Replacer is the eviction-order seam the engine sits on.
// The simulator ships FIFO only; the engine never reorders residents itself.
type Replacer interface {
	// Victim selects the frame to evict and removes it from the order
	// Returns the frame index and true, or EmptyFrame and false when empty
	Victim() (int, bool)

	// Oldest returns the frame that Victim would pick without removing it
	Oldest() (int, bool)

	// Admit appends a frame to the eviction order
	Admit(frameIndex int)

	// Reset clears the eviction order
	Reset()

	// Size returns the number of frames in the eviction order
	Size() int

	// Order returns the eviction order, oldest first
	Order() []int
}
