package sim

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler mediates timed or manual progression through an Engine
//
// Design:
// - One mutex serializes the autoplay goroutine with manual calls
// - Each Start spawns a fresh goroutine cancelled by closing stopCh
// - Timer waits come from the injected Clock, tests drive a fake one
// - The render callback fires outside the lock after every applied step
//
// Goals:
// 1. Steps stay strictly ordered, timer and manual drivers never overlap
// 2. Pause reliably cancels the pending timed step
// 3. Engine errors during animation pause playback instead of crashing it

// DefaultSpeedMs is the autoplay interval used when none is configured
const DefaultSpeedMs = 1000

// SteppableEngine is the step-processing capability the scheduler drives.
// *Engine satisfies it; tests substitute failing stubs.
type SteppableEngine interface {
	ProcessPageReference(stepIndex int) (StepResult, error)
	RestoreToStep(stepIndex int) error
	CurrentState() EngineState
	TotalSteps() int
	History() *StepHistory
	Metrics() *Metrics
}

// RenderNotifyFunc is invoked after every applied step so renderers can
// redraw. It runs outside the scheduler lock; implementations may call
// back into the scheduler, but must not call Close from it.
type RenderNotifyFunc func()

// SchedulerConfig contains configuration for the scheduler
type SchedulerConfig struct {
	// Autoplay interval in milliseconds
	SpeedMs int

	// Timer source, SystemClock when nil
	Clock Clock

	// Structured logger, slog.Default when nil
	Logger *slog.Logger
}

// DefaultSchedulerConfig returns default configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SpeedMs: DefaultSpeedMs,
		Clock: SystemClock{},
	}
}

// SchedulerState is the read-only composite handed to UI layers
type SchedulerState struct {
	Playing bool `json:"playing"` // Autoplay currently active
	CurrentStep int `json:"current_step"` // Scheduler's own step counter
	TotalSteps int `json:"total_steps"` // Length of the reference string
	SpeedMs int `json:"speed_ms"` // Autoplay interval
	CanStepForward bool `json:"can_step_forward"`
	CanStepBackward bool `json:"can_step_backward"`
	Complete bool `json:"complete"` // All references executed
	Engine EngineState `json:"engine"` // Delegated engine snapshot
}

// Scheduler drives one Engine. It owns no simulation data beyond its own
// step counter, which mirrors the engine's but may diverge transiently
// while navigating backward.
type Scheduler struct {
	engine SteppableEngine
	notify RenderNotifyFunc
	clock Clock
	metrics *Metrics
	logger *slog.Logger

	mu sync.Mutex // Serializes the timer goroutine with manual calls
	playing bool
	currentStep int
	totalSteps int
	speed time.Duration
	stepLog []StepResult // Results applied through this scheduler
	startedAt time.Time // When the active autoplay run began
	stopCh chan struct{} // Closing cancels the active autoplay run
	doneCh chan struct{} // Closed when the autoplay goroutine exits
}

// NewScheduler creates a scheduler over the given engine. notify may be
// nil when no renderer is attached.
func NewScheduler(engine SteppableEngine, notify RenderNotifyFunc, config SchedulerConfig) (*Scheduler, error) {
	if engine == nil {
		return nil, NewSimError(ErrCodeInvalidArgument, "NewScheduler",
			"engine does not expose step processing", nil)
	}

	// Validate configuration
	if config.SpeedMs <= 0 {
		config.SpeedMs = DefaultSpeedMs
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Scheduler{
		engine: engine,
		notify: notify,
		clock: config.Clock,
		metrics: engine.Metrics(),
		logger: config.Logger,
		playing: false,
		currentStep: 0,
		totalSteps: engine.TotalSteps(),
		speed: time.Duration(config.SpeedMs) * time.Millisecond,
	}, nil
}

// Start begins autoplay. Returns false without side effects when already
// playing or already complete.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	if s.playing || s.currentStep >= s.totalSteps {
		s.mu.Unlock()
		return false
	}

	s.playing = true
	s.startedAt = s.clock.Now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.playLoop(s.stopCh, s.doneCh)
	step, speed := s.currentStep, s.speed
	s.mu.Unlock()

	s.logger.Debug("autoplay started", "step", step, "speed", speed)
	return true
}

// Pause stops autoplay and cancels the pending timed step. Idempotent:
// returns false when not playing. Safe to call from the render callback.
func (s *Scheduler) Pause() bool {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return false
	}

	s.playing = false
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	step := s.currentStep
	s.mu.Unlock()

	s.metrics.RecordPause()
	s.logger.Debug("autoplay paused", "step", step)
	return true
}

// Close pauses autoplay and waits for the timer goroutine to exit. Must
// not be called from the render callback.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.playing {
		s.playing = false
		if s.stopCh != nil {
			close(s.stopCh)
			s.stopCh = nil
		}
	}
	done := s.doneCh
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// StepForward executes one reference manually. Returns nil when complete
// or when the engine rejected the step (which also pauses playback).
func (s *Scheduler) StepForward() *StepResult {
	s.mu.Lock()
	result, ok := s.applyStep()
	s.mu.Unlock()

	if !ok {
		return nil
	}

	s.metrics.RecordManualStep()
	s.notifyRender()
	return result
}

// StepBackward rewinds one step. Returns false at step zero or when the
// engine rejected the rewind (which also pauses playback).
func (s *Scheduler) StepBackward() bool {
	s.mu.Lock()
	if s.currentStep <= 0 {
		s.mu.Unlock()
		return false
	}

	s.currentStep--
	err := s.engine.RestoreToStep(s.currentStep)
	if err != nil {
		// Absorbed: animation must survive a failed rewind
		s.playing = false
		step := s.currentStep
		s.mu.Unlock()
		s.logger.Warn("rewind failed, pausing", "step", step, "error", err)
		return false
	}
	s.mu.Unlock()

	s.notifyRender()
	return true
}

// SetSpeed updates the autoplay interval. Non-positive values are ignored.
// Takes effect when the next step is scheduled.
func (s *Scheduler) SetSpeed(ms int) {
	if ms <= 0 {
		return
	}
	s.mu.Lock()
	s.speed = time.Duration(ms) * time.Millisecond
	s.mu.Unlock()
}

// State returns the composite snapshot for UI layers
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SchedulerState{
		Playing: s.playing,
		CurrentStep: s.currentStep,
		TotalSteps: s.totalSteps,
		SpeedMs: int(s.speed / time.Millisecond),
		CanStepForward: s.currentStep < s.totalSteps,
		CanStepBackward: s.currentStep > 0,
		Complete: s.currentStep >= s.totalSteps,
		Engine: s.engine.CurrentState(),
	}
}

// IsPlaying returns whether autoplay is currently active
func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// LastResult returns the most recent result applied through this scheduler
func (s *Scheduler) LastResult() (StepResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.stepLog) == 0 {
		return StepResult{}, false
	}
	return cloneResult(s.stepLog[len(s.stepLog)-1]), true
}

// CurrentRecord returns the step record sitting at the playback cursor,
// the one whose outcome the engine's frames currently show. After a rewind
// this walks backward with the cursor, unlike LastResult. All engine access
// happens under the scheduler lock.
func (s *Scheduler) CurrentRecord() (StepResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.engine.CurrentState().CurrentStep
	if cur <= 0 {
		return StepResult{}, false
	}
	return s.engine.History().At(cur - 1)
}

// StepLog returns a copy of every result applied through this scheduler,
// in application order (rewound steps reappear when re-executed)
func (s *Scheduler) StepLog() []StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StepResult, len(s.stepLog))
	for i, r := range s.stepLog {
		out[i] = cloneResult(r)
	}
	return out
}

// playLoop schedules timed steps until cancelled or finished. The channels
// are captured per run so a stale loop can never race a fresh Start.
func (s *Scheduler) playLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		s.mu.Lock()
		interval := s.speed
		s.mu.Unlock()

		select {
		case <-stopCh:
			return
		case <-s.clock.After(interval):
			if !s.timedStep() {
				return
			}
		}
	}
}

// timedStep applies one autoplay step. Returns false when the loop should
// exit: paused, complete, or engine failure.
func (s *Scheduler) timedStep() bool {
	s.mu.Lock()
	if !s.playing {
		// Paused between the timer firing and this callback running
		s.mu.Unlock()
		return false
	}

	result, ok := s.applyStep()
	playing := s.playing
	var elapsed time.Duration
	if !playing {
		elapsed = s.clock.Now().Sub(s.startedAt)
	}
	s.mu.Unlock()

	if ok {
		s.metrics.RecordTimedStep()
		s.notifyRender()
	}
	if !playing {
		s.logger.Debug("autoplay finished", "applied", result != nil, "elapsed", elapsed)
	}
	return ok && playing
}

// applyStep is the forward-step core shared by manual and timed drivers.
// Callers hold s.mu. A completing or failing step clears playing so the
// autoplay loop winds down.
func (s *Scheduler) applyStep() (*StepResult, bool) {
	if s.currentStep >= s.totalSteps {
		s.playing = false
		return nil, false
	}

	result, err := s.engine.ProcessPageReference(s.currentStep)
	if err != nil {
		// Absorbed: a failed step pauses the animation, never crashes it
		s.playing = false
		s.logger.Warn("step failed, pausing", "step", s.currentStep, "error", err)
		return nil, false
	}

	s.currentStep++
	s.stepLog = append(s.stepLog, result)
	if s.currentStep >= s.totalSteps {
		s.playing = false
	}
	return &result, true
}

func (s *Scheduler) notifyRender() {
	if s.notify != nil {
		s.notify()
	}
}
