package sim

import (
	"log/slog"
	"sync"
)

// Session binds one Engine to one Scheduler and survives reconfiguration.
// UI layers hold a Session and swap simulations through it instead of
// rewiring engine and scheduler by hand.
type Session struct {
	notify RenderNotifyFunc
	clock Clock
	logger *slog.Logger

	mu sync.Mutex // Guards the engine/scheduler pair during swaps
	config *Config
	engine *Engine
	sched *Scheduler
}

// NewSession builds a session from the given configuration. notify may be
// nil when no renderer is attached.
func NewSession(config *Config, notify RenderNotifyFunc, clock Clock, logger *slog.Logger) (*Session, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, NewSimError(ErrCodeInvalidConfig, "NewSession", "configuration rejected", err)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		notify: notify,
		clock: clock,
		logger: logger,
		config: config.Clone(),
	}
	if err := s.rebuild(config.FrameCount, config.PageReferences, config.SpeedMs); err != nil {
		return nil, err
	}
	return s, nil
}

// Configure replaces the running simulation with a fresh one over the
// given parameters. The playback speed carries over. The old scheduler is
// shut down after the swap, so a stale autoplay run can never touch the
// new engine.
func (s *Session) Configure(frameCount int, pageReferences []int) error {
	s.mu.Lock()
	speed := s.config.SpeedMs
	s.mu.Unlock()
	if sched := s.Scheduler(); sched != nil {
		speed = sched.State().SpeedMs
	}

	return s.rebuild(frameCount, pageReferences, speed)
}

// Reset restarts the current scenario from step zero
func (s *Session) Reset() error {
	s.mu.Lock()
	frameCount := s.config.FrameCount
	refs := make([]int, len(s.config.PageReferences))
	copy(refs, s.config.PageReferences)
	s.mu.Unlock()

	return s.Configure(frameCount, refs)
}

// rebuild constructs a fresh engine/scheduler pair and swaps it in
func (s *Session) rebuild(frameCount int, pageReferences []int, speedMs int) error {
	engine, err := NewEngine(frameCount, pageReferences)
	if err != nil {
		return err
	}

	sched, err := NewScheduler(engine, s.notify, SchedulerConfig{
		SpeedMs: speedMs,
		Clock: s.clock,
		Logger: s.logger,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.sched
	s.engine = engine
	s.sched = sched
	s.config.FrameCount = frameCount
	s.config.PageReferences = make([]int, len(pageReferences))
	copy(s.config.PageReferences, pageReferences)
	s.config.SpeedMs = speedMs
	s.mu.Unlock()

	// Shut the old run down outside the lock so its render callback can
	// still read session state while draining
	if old != nil {
		old.Close()
	}

	s.logger.Debug("session configured",
		"frame_count", frameCount,
		"references", len(pageReferences),
		"speed_ms", speedMs)
	return nil
}

// Engine returns the currently active engine
func (s *Session) Engine() *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Scheduler returns the currently active scheduler
func (s *Session) Scheduler() *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched
}

// Config returns a copy of the session's current configuration
func (s *Session) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// State returns the composite playback snapshot
func (s *Session) State() SchedulerState {
	return s.Scheduler().State()
}

// Start begins autoplay on the active simulation
func (s *Session) Start() bool {
	return s.Scheduler().Start()
}

// Pause stops autoplay on the active simulation
func (s *Session) Pause() bool {
	return s.Scheduler().Pause()
}

// StepForward executes one reference manually
func (s *Session) StepForward() *StepResult {
	return s.Scheduler().StepForward()
}

// StepBackward rewinds one step
func (s *Session) StepBackward() bool {
	return s.Scheduler().StepBackward()
}

// SetSpeed updates the autoplay interval
func (s *Session) SetSpeed(ms int) {
	s.Scheduler().SetSpeed(ms)
	s.mu.Lock()
	if ms > 0 {
		s.config.SpeedMs = ms
	}
	s.mu.Unlock()
}

// Close shuts down the active scheduler. Must not be called from the
// render callback.
func (s *Session) Close() {
	s.Scheduler().Close()
}
