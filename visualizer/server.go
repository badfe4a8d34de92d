package visualizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SakethVetcha/os-project-fifo/sim"
)

// writeWait bounds how long a push may block on a slow client
const writeWait = 10 * time.Second

// ServerConfig contains configuration for the visualizer server
type ServerConfig struct {
	// Template configuration for new sessions
	SimConfig *sim.Config

	// Structured logger, slog.Default when nil
	Logger *slog.Logger

	// Timer source for autoplay, SystemClock when nil
	Clock sim.Clock
}

// Server is the websocket boundary between browser renderers and the
// simulation core. Each renderer creates its own session over POST /session
// and drives it through GET /ws; sessions are sandboxes, never shared.
//
// Protocol:
// - Client sends CommandMessage frames
// - Server answers every state change with a StateMessage
// - Rejected commands produce an ErrorMessage, the connection stays open
type Server struct {
	logger *slog.Logger
	clock sim.Clock
	simConfig *sim.Config
	upgrader websocket.Upgrader

	mu sync.Mutex
	sessions map[string]*playback
	nextID atomic.Uint64
}

/// playback is one renderer-driven simulation: a session plus at most one
// websocket subscriber receiving its state pushes
type playback struct {
	id string
	logger *slog.Logger
	session *sim.Session

	// A displaced connection can still be draining its last command while
	// the replacement starts issuing its own, so commands serialize here
	cmdMu sync.Mutex

	mu sync.Mutex
	sub *subscriber
}

// subscriber serializes writes to one websocket connection
type subscriber struct {
	conn *websocket.Conn
	mu sync.Mutex
}

func (sub *subscriber) write(data []byte) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sub.conn.WriteMessage(websocket.TextMessage, data)
}

// NewServer creates a visualizer server. The template configuration seeds
// every new session and must validate.
func NewServer(config ServerConfig) (*Server, error) {
	if config.SimConfig == nil {
		config.SimConfig = sim.DefaultConfig()
	}
	if err := config.SimConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session template: %w", err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = sim.SystemClock{}
	}

	return &Server{
		logger: config.Logger,
		clock: config.Clock,
		simConfig: config.SimConfig.Clone(),
		upgrader: websocket.Upgrader{
			ReadBufferSize: 1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions: make(map[string]*playback),
	}, nil
}

// Handler returns the HTTP surface: session creation, the websocket
// endpoint, and a health probe
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleCreateSession)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// CreateSession builds a fresh session from the server's template. The
// session lives until the server closes; a renderer that drops its socket
// can reconnect with the same identifier.
func (s *Server) CreateSession() (*SessionResponse, error) {
	id := fmt.Sprintf("session-%d", s.nextID.Add(1))

	pb := &playback{id: id, logger: s.logger}
	session, err := sim.NewSession(s.simConfig, pb.pushState, s.clock, s.logger)
	if err != nil {
		return nil, err
	}
	pb.session = session

	s.mu.Lock()
	s.sessions[id] = pb
	s.mu.Unlock()

	s.logger.Info("session created", "session", id)
	return &SessionResponse{SessionID: id, State: session.State()}, nil
}

// Close shuts down every session. The HTTP listener belongs to the caller.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*playback, 0, len(s.sessions))
	for _, pb := range s.sessions {
		sessions = append(sessions, pb)
	}
	s.sessions = make(map[string]*playback)
	s.mu.Unlock()

	for _, pb := range sessions {
		pb.session.Close()

		pb.mu.Lock()
		sub := pb.sub
		pb.sub = nil
		pb.mu.Unlock()

		if sub != nil {
			sub.conn.Close()
		}
	}
}

func (s *Server) lookup(id string) *playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := s.CreateSession()
	if err != nil {
		s.logger.Error("session creation failed", "error", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	count := len(s.sessions)
	s.mu.Unlock()

	payload := struct {
		Status string `json:"status"`
		ServerTime int64 `json:"server_time"`
		Sessions int `json:"sessions"`
	}{
		Status: "ok",
		ServerTime: time.Now().UnixMilli(),
		Sessions: count,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "session", id, "error", err)
		return
	}

	pb := s.lookup(id)
	if pb == nil {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	sub := pb.attach(conn)
	s.logger.Info("renderer connected", "session", id)
	pb.pushState()

	s.readLoop(pb, sub)
}

// readLoop dispatches commands from one connection until it drops. On
// disconnect the animation pauses so no session plays to an empty room.
func (s *Server) readLoop(pb *playback, sub *subscriber) {
	defer func() {
		if pb.detach(sub) {
			pb.session.Pause()
		}
		sub.conn.Close()
		s.logger.Info("renderer disconnected", "session", pb.id)
	}()

	for {
		_, payload, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg CommandMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("discarding malformed command", "session", pb.id, "error", err)
			continue
		}

		s.dispatch(pb, sub, msg)
	}
}

// dispatch applies one command. Steps that reach the engine push state
// through the render callback; everything else answers explicitly.
func (s *Server) dispatch(pb *playback, sub *subscriber, msg CommandMessage) {
	pb.cmdMu.Lock()
	defer pb.cmdMu.Unlock()

	switch msg.Type {
	case "configure":
		refs, err := sim.ParseReferenceString(msg.References)
		if err == nil {
			err = pb.session.Configure(msg.FrameCount, refs)
		}
		if err != nil {
			pb.sendError(sub, msg.Type, err)
			return
		}
		pb.pushState()

	case "start":
		pb.session.Start()
		pb.pushState()

	case "pause":
		pb.session.Pause()
		pb.pushState()

	case "step":
		if result := pb.session.StepForward(); result == nil {
			// Completion or an absorbed engine failure, answer anyway
			pb.pushState()
		}

	case "stepBack":
		if !pb.session.StepBackward() {
			pb.pushState()
		}

	case "setSpeed":
		pb.session.SetSpeed(msg.SpeedMs)
		pb.pushState()

	case "reset":
		if err := pb.session.Reset(); err != nil {
			pb.sendError(sub, msg.Type, err)
			return
		}
		pb.pushState()

	case "export":
		pb.sendTrace(sub, msg.Format)

	default:
		pb.sendError(sub, msg.Type, fmt.Errorf("unknown command %q", msg.Type))
	}
}

// attach replaces the current subscriber. One renderer drives a session at
// a time; a reconnect displaces the previous socket.
func (p *playback) attach(conn *websocket.Conn) *subscriber {
	sub := &subscriber{conn: conn}

	p.mu.Lock()
	old := p.sub
	p.sub = sub
	p.mu.Unlock()

	if old != nil {
		old.conn.Close()
	}
	return sub
}

// detach clears the subscriber if it is still the active one, reporting
// whether the departing connection was driving the session
func (p *playback) detach(sub *subscriber) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub == sub {
		p.sub = nil
		return true
	}
	return false
}

// pushState sends the current snapshot to the subscriber, if any. Runs on
// both the reader goroutine and the autoplay goroutine's render callback.
func (p *playback) pushState() {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()
	if sub == nil {
		return
	}

	msg := StateMessage{
		Type: "state",
		Scheduler: p.session.State(),
		ServerTime: time.Now().UnixMilli(),
	}
	if record, ok := p.session.Scheduler().CurrentRecord(); ok {
		highlight := record.Highlight()
		msg.LastStep = &record
		msg.Highlight = &highlight
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to marshal state message", "session", p.id, "error", err)
		return
	}
	if err := sub.write(data); err != nil {
		p.logger.Warn("state push failed", "session", p.id, "error", err)
	}
}

func (p *playback) sendError(sub *subscriber, command string, err error) {
	p.logger.Warn("command rejected", "session", p.id, "command", command, "error", err)

	msg := ErrorMessage{Type: "error", Command: command, Message: err.Error()}
	data, merr := json.Marshal(msg)
	if merr != nil {
		return
	}
	if werr := sub.write(data); werr != nil {
		p.logger.Warn("error push failed", "session", p.id, "error", werr)
	}
}

// sendTrace answers an export command with the trace document inline.
// Playback pauses first so the snapshot cannot race the autoplay timer.
func (p *playback) sendTrace(sub *subscriber, format string) {
	paused := p.session.Pause()

	var buf bytes.Buffer
	var err error
	switch format {
	case "json", "":
		format = "json"
		err = sim.ExportTraceJSON(p.session.Engine(), &buf)
	case "csv":
		err = sim.ExportTraceCSV(p.session.Engine(), &buf)
	default:
		err = fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		p.sendError(sub, "export", err)
		return
	}

	msg := TraceMessage{Type: "trace", Format: format, Data: buf.String()}
	data, merr := json.Marshal(msg)
	if merr != nil {
		p.logger.Error("failed to marshal trace message", "session", p.id, "error", merr)
		return
	}
	if werr := sub.write(data); werr != nil {
		p.logger.Warn("trace push failed", "session", p.id, "error", werr)
		return
	}

	if paused {
		p.pushState()
	}
}
