package visualizer

import (
	"github.com/SakethVetcha/os-project-fifo/sim"
)

// CommandMessage is one renderer command received over the websocket. Type
// selects the operation; the remaining fields apply only to the commands
// that need them.
type CommandMessage struct {
	Type string `json:"type"` // configure, start, pause, step, stepBack, setSpeed, reset, export
	FrameCount int `json:"frame_count,omitempty"` // configure: number of frames
	References string `json:"references,omitempty"` // configure: page reference string
	SpeedMs int `json:"speed_ms,omitempty"` // setSpeed: autoplay interval in milliseconds
	Format string `json:"format,omitempty"` // export: json or csv
}

// StateMessage is the full playback snapshot pushed after every state
// change. LastStep and Highlight describe the record at the playback
// cursor and are absent before the first step.
type StateMessage struct {
	Type string `json:"type"` // Always "state"
	Scheduler sim.SchedulerState `json:"scheduler"` // Composite playback snapshot
	LastStep *sim.StepResult `json:"last_step,omitempty"` // Record at the playback cursor
	Highlight *sim.Highlight `json:"highlight,omitempty"` // Frame to color for that record
	ServerTime int64 `json:"server_time"` // Unix milliseconds
}

// ErrorMessage reports a rejected command without closing the connection
type ErrorMessage struct {
	Type string `json:"type"` // Always "error"
	Command string `json:"command"` // The command that was rejected
	Message string `json:"message"` // Reason, suitable for display
}

// TraceMessage answers an export command with the trace document inline.
// Only the text formats travel over the socket; the binary artifacts are
// produced by the command line tool.
type TraceMessage struct {
	Type string `json:"type"` // Always "trace"
	Format string `json:"format"` // json or csv
	Data string `json:"data"` // The document text
}

// SessionResponse is the reply to POST /session
type SessionResponse struct {
	SessionID string `json:"session_id"` // Identifier for the websocket handshake
	State sim.SchedulerState `json:"state"` // Initial playback snapshot
}
