package sim

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// TraceDocument is the exported record of a simulation run: the scenario,
// every executed step, and the closing totals
type TraceDocument struct {
	FrameCount int `json:"frame_count"` // Number of physical frames
	PageReferences []int `json:"page_references"` // Full reference string
	ExportedAt time.Time `json:"exported_at"` // Export timestamp
	Steps []StepResult `json:"steps"` // Executed step records
	Summary TraceSummary `json:"summary"` // Closing totals
}

// TraceSummary carries the run totals at export time
type TraceSummary struct {
	TotalSteps int `json:"total_steps"` // Length of the reference string
	ExecutedSteps int `json:"executed_steps"` // Steps with a recorded result
	CurrentStep int `json:"current_step"` // Engine position at export
	FaultCount int `json:"fault_count"` // Faults counted at the current position
	HitCount int `json:"hit_count"` // Hits counted at the current position
	FaultRate float64 `json:"fault_rate"` // Percentage, two decimals
	Complete bool `json:"complete"` // All references executed
}

// NewTraceDocument snapshots the engine's run into an exportable document.
// Rewound steps keep their recorded results, so the step table can extend
// past the engine's current position.
func NewTraceDocument(engine *Engine) *TraceDocument {
	state := engine.CurrentState()
	steps := engine.History().Slice()

	return &TraceDocument{
		FrameCount: state.FrameCount,
		PageReferences: engine.PageReferences(),
		ExportedAt: time.Now(),
		Steps: steps,
		Summary: TraceSummary{
			TotalSteps: state.TotalSteps,
			ExecutedSteps: len(steps),
			CurrentStep: state.CurrentStep,
			FaultCount: state.FaultCount,
			HitCount: state.CurrentStep - state.FaultCount,
			FaultRate: state.FaultRate,
			Complete: state.Complete(),
		},
	}
}

// WriteJSON writes the document as indented JSON
func (d *TraceDocument) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(d); err != nil {
		return ErrTraceOperation("WriteJSON", err)
	}
	return nil
}

// WriteCSV writes the step table as CSV, one row per executed step
func (d *TraceDocument) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	header := []string{"step", "page", "result", "replaced_frame", "replaced_page", "frames", "fault_count", "fault_rate"}
	if err := writer.Write(header); err != nil {
		return ErrTraceOperation("WriteCSV", err)
	}

	for _, step := range d.Steps {
		result := "fault"
		if step.IsHit {
			result = "hit"
		}

		replacedFrame := "-"
		replacedPage := "-"
		if step.Replaced() {
			replacedFrame = strconv.Itoa(step.ReplacedFrameIndex)
			replacedPage = strconv.Itoa(step.ReplacedPage)
		}

		row := []string{
			strconv.Itoa(step.StepIndex),
			strconv.Itoa(step.PageNumber),
			result,
			replacedFrame,
			replacedPage,
			FormatFrames(step.FrameState),
			strconv.Itoa(step.FaultCount),
			fmt.Sprintf("%.2f", step.FaultRate),
		}
		if err := writer.Write(row); err != nil {
			return ErrTraceOperation("WriteCSV", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return ErrTraceOperation("WriteCSV", err)
	}
	return nil
}

// ExportTraceJSON snapshots the engine and writes the JSON document
func ExportTraceJSON(engine *Engine, w io.Writer) error {
	start := time.Now()
	doc := NewTraceDocument(engine)
	if err := doc.WriteJSON(w); err != nil {
		return err
	}

	engine.Metrics().RecordTraceExport()
	engine.Metrics().RecordExportLatency(time.Since(start))
	return nil
}

// ExportTraceCSV snapshots the engine and writes the CSV step table
func ExportTraceCSV(engine *Engine, w io.Writer) error {
	start := time.Now()
	doc := NewTraceDocument(engine)
	if err := doc.WriteCSV(w); err != nil {
		return err
	}

	engine.Metrics().RecordTraceExport()
	engine.Metrics().RecordExportLatency(time.Since(start))
	return nil
}

// FormatFrames renders a frame array for display, empty frames as "-"
func FormatFrames(frames []int) string {
	var b strings.Builder
	for i, page := range frames {
		if i > 0 {
			b.WriteByte(' ')
		}
		if page == EmptyFrame {
			b.WriteByte('-')
		} else {
			b.WriteString(strconv.Itoa(page))
		}
	}
	return b.String()
}
