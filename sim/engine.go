package sim

import (
	"fmt"
	"math"
	"time"
)

// RunState identifies where a simulation is in its lifecycle
type RunState int

const (
	RunStateUnstarted RunState = iota
	RunStateInProgress
	RunStateComplete
)

// String returns string representation of RunState
func (rs RunState) String() string {
	switch rs {
	case RunStateUnstarted:
		return "UNSTARTED"
	case RunStateInProgress:
		return "IN_PROGRESS"
	case RunStateComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Engine is the deterministic FIFO page-replacement state machine. One
// Engine drives one simulation run over a fixed reference string; changing
// parameters means building a fresh Engine, never mutating an old one.
//
// The Engine does not synchronize itself. Exactly one driver (a Scheduler
// or a test) owns it at a time; drivers that step it from a timer goroutine
// serialize access on their side.
type Engine struct {
	frameCount int
	pageReferences []int
	frames []int // Frame contents, EmptyFrame marks an unoccupied slot
	fifoOrder Replacer // Occupied frame indices, oldest first
	currentStep int // References executed so far
	faultCount int
	history *StepHistory
	metrics *Metrics
}

// NewEngine creates an engine over frameCount empty frames and the given
// reference string. The reference slice is copied.
func NewEngine(frameCount int, pageReferences []int) (*Engine, error) {
	if frameCount <= 0 {
		return nil, ErrInvalidFrameCount("NewEngine", frameCount)
	}
	if len(pageReferences) == 0 {
		return nil, ErrEmptyReferences("NewEngine")
	}
	for i, page := range pageReferences {
		if page < 0 {
			return nil, ErrNegativeReference("NewEngine", page, i)
		}
	}

	frames := make([]int, frameCount)
	for i := range frames {
		frames[i] = EmptyFrame
	}

	return &Engine{
		frameCount: frameCount,
		pageReferences: cloneInts(pageReferences),
		frames: frames,
		fifoOrder: NewFIFOReplacer(frameCount),
		currentStep: 0,
		faultCount: 0,
		history: NewStepHistory(len(pageReferences)),
		metrics: NewMetrics(),
	}, nil
}

// ProcessPageReference executes the reference at stepIndex against the
// current frames and records the outcome. Drivers call it with stepIndex
// equal to CurrentStep; the engine itself only bounds-checks against the
// reference string.
func (e *Engine) ProcessPageReference(stepIndex int) (StepResult, error) {
	if stepIndex < 0 || stepIndex >= len(e.pageReferences) {
		return StepResult{}, ErrStepOutOfRange("ProcessPageReference", stepIndex, len(e.pageReferences))
	}

	start := time.Now()
	pageNumber := e.pageReferences[stepIndex]

	// Hit test: a page occupies at most one frame, the first match is the only one
	hit := false
	for _, page := range e.frames {
		if page == pageNumber {
			hit = true
			break
		}
	}

	replacedFrame := EmptyFrame
	replacedPage := EmptyFrame

	if hit {
		e.metrics.RecordPageHit()
	} else {
		e.faultCount++
		e.metrics.RecordPageFault()

		if target := e.firstEmptyFrame(); target != EmptyFrame {
			e.frames[target] = pageNumber
			e.fifoOrder.Admit(target)
		} else {
			victim, ok := e.fifoOrder.Victim()
			if !ok {
				return StepResult{}, NewSimError(ErrCodeInternal, "ProcessPageReference",
					fmt.Sprintf("all %d frames occupied but eviction queue is empty", e.frameCount), nil)
			}
			replacedFrame = victim
			replacedPage = e.frames[victim]
			e.frames[victim] = pageNumber
			// The refilled frame becomes the newest arrival again
			e.fifoOrder.Admit(victim)
			e.metrics.RecordReplacement()
		}
	}

	e.currentStep = stepIndex + 1

	result := StepResult{
		StepIndex: stepIndex,
		PageNumber: pageNumber,
		IsHit: hit,
		ReplacedFrameIndex: replacedFrame,
		ReplacedPage: replacedPage,
		FrameState: cloneInts(e.frames),
		FaultCount: e.faultCount,
		FaultRate: faultRatePercent(e.faultCount, e.currentStep),
	}
	e.history.Put(cloneResult(result))
	e.metrics.RecordStepLatency(time.Since(start))

	return result, nil
}

// RestoreToStep rewinds the engine to the state recorded for stepIndex.
// History is kept intact so the rewound range can be replayed forward.
//
// The eviction queue is rebuilt from frame occupancy in index order, not
// from true insertion age; after rewinding past a replacement the rebuilt
// order can differ from the order a pure forward run would have held.
// Replays therefore reproduce frames and fault counts exactly, but not
// necessarily later victim choices.
func (e *Engine) RestoreToStep(stepIndex int) error {
	if stepIndex < 0 || stepIndex >= e.history.Len() {
		return ErrRestoreOutOfRange("RestoreToStep", stepIndex, e.history.Len())
	}

	record, ok := e.history.At(stepIndex)
	if !ok || len(record.FrameState) != e.frameCount {
		return NewSimError(ErrCodeInternal, "RestoreToStep",
			fmt.Sprintf("history slot %d was never executed", stepIndex), nil)
	}

	start := time.Now()

	e.frames = record.FrameState // At returned a copy, the engine owns it
	e.faultCount = record.FaultCount
	e.currentStep = stepIndex + 1

	e.fifoOrder.Reset()
	for i, page := range e.frames {
		if page != EmptyFrame {
			e.fifoOrder.Admit(i)
		}
	}

	e.metrics.RecordRestore()
	e.metrics.RecordRestoreLatency(time.Since(start))

	return nil
}

// OldestFrameIndex returns the next eviction candidate, or EmptyFrame when
// no frame is occupied
func (e *Engine) OldestFrameIndex() int {
	oldest, ok := e.fifoOrder.Oldest()
	if !ok {
		return EmptyFrame
	}
	return oldest
}

// CurrentState returns a snapshot of the engine for renderers and stats
func (e *Engine) CurrentState() EngineState {
	return EngineState{
		Frames: cloneInts(e.frames),
		FIFOOrder: e.fifoOrder.Order(),
		CurrentStep: e.currentStep,
		TotalSteps: len(e.pageReferences),
		FaultCount: e.faultCount,
		FaultRate: faultRatePercent(e.faultCount, e.currentStep),
		FrameCount: e.frameCount,
	}
}

// RunState returns the lifecycle phase implied by the step counter
func (e *Engine) RunState() RunState {
	switch {
	case e.currentStep == 0:
		return RunStateUnstarted
	case e.currentStep < len(e.pageReferences):
		return RunStateInProgress
	default:
		return RunStateComplete
	}
}

// CurrentStep returns the number of references executed so far
func (e *Engine) CurrentStep() int {
	return e.currentStep
}

// FaultCount returns the cumulative fault count
func (e *Engine) FaultCount() int {
	return e.faultCount
}

// FrameCount returns the number of frames
func (e *Engine) FrameCount() int {
	return e.frameCount
}

// TotalSteps returns the length of the reference string
func (e *Engine) TotalSteps() int {
	return len(e.pageReferences)
}

// PageReferences returns a copy of the reference string
func (e *Engine) PageReferences() []int {
	return cloneInts(e.pageReferences)
}

// History returns the step history feeding exporters and rewinds
func (e *Engine) History() *StepHistory {
	return e.history
}

// Metrics returns the engine's metrics tracker
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// firstEmptyFrame returns the lowest-index unoccupied frame, or EmptyFrame
func (e *Engine) firstEmptyFrame() int {
	for i, page := range e.frames {
		if page == EmptyFrame {
			return i
		}
	}
	return EmptyFrame
}

// faultRatePercent returns the cumulative fault percentage rounded to two decimals
func faultRatePercent(faultCount, steps int) float64 {
	if steps == 0 {
		return 0
	}
	rate := float64(faultCount) / float64(steps) * 100
	return math.Round(rate*100) / 100
}
