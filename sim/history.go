package sim

// StepHistory is the step-indexed record of executed references. Rewinding
// never discards records, so any previously reached state can be revisited
// or exported after the fact. Re-executing a step after a rewind overwrites
// that step's slot in place; slots past the rewind point stay until the
// replay reaches them. Unsynchronized, same single-owner discipline as the
// engine that feeds it.
type StepHistory struct {
	records []StepResult
}

// NewStepHistory creates a history sized for the expected step count
func NewStepHistory(capacity int) *StepHistory {
	if capacity < 0 {
		capacity = 0
	}
	return &StepHistory{
		records: make([]StepResult, 0, capacity),
	}
}

// Put stores the record for record.StepIndex, growing the history if the
// index is first reached now. The record's slices must already be owned by
// the history (callers pass freshly built copies).
func (h *StepHistory) Put(record StepResult) {
	for record.StepIndex >= len(h.records) {
		h.records = append(h.records, StepResult{})
	}
	h.records[record.StepIndex] = record
}

// Len returns the number of recorded steps
func (h *StepHistory) Len() int {
	return len(h.records)
}

// At returns the record for stepIndex
// The returned record's frame state is a copy
func (h *StepHistory) At(stepIndex int) (StepResult, bool) {
	if stepIndex < 0 || stepIndex >= len(h.records) {
		return StepResult{}, false
	}
	return cloneResult(h.records[stepIndex]), true
}

// Last returns the most recent record
func (h *StepHistory) Last() (StepResult, bool) {
	if len(h.records) == 0 {
		return StepResult{}, false
	}
	return cloneResult(h.records[len(h.records)-1]), true
}

// Slice returns a copy of all records in step order
func (h *StepHistory) Slice() []StepResult {
	out := make([]StepResult, len(h.records))
	for i, r := range h.records {
		out[i] = cloneResult(r)
	}
	return out
}

func cloneResult(r StepResult) StepResult {
	r.FrameState = cloneInts(r.FrameState)
	return r
}

func cloneInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}
