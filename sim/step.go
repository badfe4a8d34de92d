package sim

// EmptyFrame marks a frame slot that holds no page, and stands in for
// "no frame" wherever a frame index may be absent. Serializes cleanly,
// unlike a pointer or a separate presence flag.
const EmptyFrame = -1

// StepResult records the complete outcome of one executed reference.
// Records are immutable once appended to the history; every slice they
// carry is a private copy.
type StepResult struct {
	StepIndex int `json:"step_index"` // Position in the reference string
	PageNumber int `json:"page_number"` // The page that was referenced
	IsHit bool `json:"is_hit"` // Whether the page was already resident
	ReplacedFrameIndex int `json:"replaced_frame_index"` // Frame that was evicted, EmptyFrame if none
	ReplacedPage int `json:"replaced_page"` // Page that was evicted, EmptyFrame if none
	FrameState []int `json:"frame_state"` // Frame contents after the step, EmptyFrame for unoccupied
	FaultCount int `json:"fault_count"` // Cumulative faults including this step
	FaultRate float64 `json:"fault_rate"` // Cumulative fault percentage, two decimals
}

// Replaced reports whether this step evicted a resident page
func (r StepResult) Replaced() bool {
	return r.ReplacedFrameIndex != EmptyFrame
}

// frameOf returns the frame holding the referenced page, or EmptyFrame
func (r StepResult) frameOf(page int) int {
	for i, p := range r.FrameState {
		if p == page {
			return i
		}
	}
	return EmptyFrame
}

// Highlight tells a renderer which single frame to color for a step.
// Exactly one field is set; the others are EmptyFrame.
type Highlight struct {
	HitFrame int `json:"hit_frame"` // Frame where the reference hit
	MissFrame int `json:"miss_frame"` // Empty frame filled by a fault
	ReplacementFrame int `json:"replacement_frame"` // Frame whose page was evicted and replaced
}

// Highlight derives the render highlight for this step
func (r StepResult) Highlight() Highlight {
	h := Highlight{HitFrame: EmptyFrame, MissFrame: EmptyFrame, ReplacementFrame: EmptyFrame}
	switch {
	case r.IsHit:
		h.HitFrame = r.frameOf(r.PageNumber)
	case r.Replaced():
		h.ReplacementFrame = r.ReplacedFrameIndex
	default:
		h.MissFrame = r.frameOf(r.PageNumber)
	}
	return h
}

// EngineState is a point-in-time snapshot of the engine for renderers
// and stats displays. Mutating it never touches the engine.
type EngineState struct {
	Frames []int `json:"frames"` // Current frame contents, EmptyFrame for unoccupied
	FIFOOrder []int `json:"fifo_order"` // Frame indices oldest first
	CurrentStep int `json:"current_step"` // Number of references executed so far
	TotalSteps int `json:"total_steps"` // Length of the reference string
	FaultCount int `json:"fault_count"` // Faults among executed references
	FaultRate float64 `json:"fault_rate"` // Fault percentage, two decimals
	FrameCount int `json:"frame_count"` // Capacity of the frame array
}

// Complete reports whether every reference has been executed
func (s EngineState) Complete() bool {
	return s.CurrentStep >= s.TotalSteps
}
