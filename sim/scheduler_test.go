package sim

import (
	"sync"
	"testing"
	"time"
)

// fakeClock hands out timer channels the test fires by hand, so autoplay
// advances only when the test says so
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	last    time.Duration
	waits   []time.Duration
	waiters []chan time.Time
	armed   chan struct{} // One signal per registered waiter
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:   time.Unix(1000, 0),
		armed: make(chan struct{}, 64),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	ch := make(chan time.Time, 1)
	c.last = d
	c.waits = append(c.waits, d)
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	c.armed <- struct{}{}
	return ch
}

// tick waits for the scheduler to arm a timer, then fires it
func (c *fakeClock) tick(t *testing.T) {
	t.Helper()

	select {
	case <-c.armed:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for scheduler to arm its timer")
	}

	c.mu.Lock()
	ch := c.waiters[0]
	d := c.waits[0]
	c.waiters = c.waiters[1:]
	c.waits = c.waits[1:]
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch <- now
}

// lastWait returns the most recently armed timer duration
func (c *fakeClock) lastWait() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func waitNotify(t *testing.T, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for render notification")
	}
}

func newTestScheduler(t *testing.T, frameCount int, refs []int) (*Scheduler, *fakeClock, chan struct{}) {
	t.Helper()

	engine := newTestEngine(t, frameCount, refs)
	clock := newFakeClock()
	notifyCh := make(chan struct{}, 64)

	config := DefaultSchedulerConfig()
	config.Clock = clock
	sched, err := NewScheduler(engine, func() { notifyCh <- struct{}{} }, config)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	return sched, clock, notifyCh
}

func TestNewSchedulerRequiresEngine(t *testing.T) {
	_, err := NewScheduler(nil, nil, DefaultSchedulerConfig())
	if !IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument for nil engine, got %v", err)
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	engine := newTestEngine(t, 2, []int{1, 2, 3})

	sched, err := NewScheduler(engine, nil, SchedulerConfig{})
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	state := sched.State()
	if state.SpeedMs != DefaultSpeedMs {
		t.Errorf("Expected default speed %d, got %d", DefaultSpeedMs, state.SpeedMs)
	}
	if state.Playing {
		t.Error("New scheduler should not be playing")
	}
	if state.CurrentStep != 0 {
		t.Errorf("Expected current step 0, got %d", state.CurrentStep)
	}
	if state.TotalSteps != 3 {
		t.Errorf("Expected total steps 3, got %d", state.TotalSteps)
	}
	if !state.CanStepForward || state.CanStepBackward {
		t.Errorf("Expected forward-only navigation, got %+v", state)
	}
}

func TestStepForwardManual(t *testing.T) {
	sched, _, notifyCh := newTestScheduler(t, 2, []int{4, 5, 6})

	result := sched.StepForward()
	if result == nil {
		t.Fatal("Expected step result, got nil")
	}
	if result.StepIndex != 0 || result.PageNumber != 4 {
		t.Errorf("Expected step 0 page 4, got %+v", result)
	}
	waitNotify(t, notifyCh)

	state := sched.State()
	if state.CurrentStep != 1 {
		t.Errorf("Expected current step 1, got %d", state.CurrentStep)
	}
	if state.Engine.CurrentStep != 1 {
		t.Errorf("Expected engine step 1, got %d", state.Engine.CurrentStep)
	}
}

func TestStepForwardAtCompletion(t *testing.T) {
	sched, _, _ := newTestScheduler(t, 2, []int{1, 2})

	sched.StepForward()
	sched.StepForward()

	if result := sched.StepForward(); result != nil {
		t.Errorf("Expected nil past the last step, got %+v", result)
	}

	state := sched.State()
	if !state.Complete {
		t.Error("Expected completion")
	}
	if state.CanStepForward {
		t.Error("Expected CanStepForward false at completion")
	}
}

func TestStepBackwardAtZero(t *testing.T) {
	sched, _, _ := newTestScheduler(t, 2, []int{1, 2})

	if sched.StepBackward() {
		t.Error("Expected StepBackward to refuse at step zero")
	}
}

// TestStepBackwardDivergesFromEngine pins the rewind bookkeeping: the
// scheduler counter drops to the restored record's index while the engine
// counts that record as executed
func TestStepBackwardDivergesFromEngine(t *testing.T) {
	sched, _, notifyCh := newTestScheduler(t, 2, []int{1, 2, 3})

	sched.StepForward()
	sched.StepForward()
	waitNotify(t, notifyCh)
	waitNotify(t, notifyCh)

	if !sched.StepBackward() {
		t.Fatal("Expected StepBackward to succeed")
	}
	waitNotify(t, notifyCh)

	state := sched.State()
	if state.CurrentStep != 1 {
		t.Errorf("Expected scheduler step 1, got %d", state.CurrentStep)
	}
	if state.Engine.CurrentStep != 2 {
		t.Errorf("Expected engine step 2 after restore, got %d", state.Engine.CurrentStep)
	}
	if !intsEqual(state.Engine.Frames, []int{1, 2}) {
		t.Errorf("Expected frames [1 2], got %v", state.Engine.Frames)
	}
	if !state.CanStepBackward || !state.CanStepForward {
		t.Errorf("Expected navigation open both ways, got %+v", state)
	}
}

// TestStepForwardAfterRewindReevaluates pins the rewind contract: the
// re-executed step runs against the restored frames, so a former miss can
// come back as a hit
func TestStepForwardAfterRewindReevaluates(t *testing.T) {
	sched, _, _ := newTestScheduler(t, 2, []int{1, 2, 3})

	first := sched.StepForward()
	second := sched.StepForward()
	if first.IsHit || second.IsHit {
		t.Fatalf("Expected both initial steps to miss, got %v and %v", first.IsHit, second.IsHit)
	}

	if !sched.StepBackward() {
		t.Fatal("Expected StepBackward to succeed")
	}

	redo := sched.StepForward()
	if redo == nil {
		t.Fatal("Expected a result from the re-executed step")
	}
	if redo.StepIndex != 1 {
		t.Errorf("Expected re-execution of step 1, got %d", redo.StepIndex)
	}
	if !redo.IsHit {
		t.Error("Expected re-executed step to hit against restored frames")
	}

	log := sched.StepLog()
	if len(log) != 3 {
		t.Errorf("Expected 3 applied results in the log, got %d", len(log))
	}

	last, ok := sched.LastResult()
	if !ok || last.StepIndex != 1 {
		t.Errorf("Expected last result from step 1, got %+v ok=%v", last, ok)
	}
}

// TestCurrentRecordTracksCursor pins the difference between LastResult and
// CurrentRecord: after a rewind the cursor record moves back while the last
// applied result stays put
func TestCurrentRecordTracksCursor(t *testing.T) {
	sched, _, _ := newTestScheduler(t, 2, []int{1, 2, 3})

	if _, ok := sched.CurrentRecord(); ok {
		t.Error("Expected no cursor record before the first step")
	}

	sched.StepForward()
	sched.StepForward()

	record, ok := sched.CurrentRecord()
	if !ok || record.StepIndex != 1 {
		t.Errorf("Expected cursor record for step 1, got %+v ok=%v", record, ok)
	}

	// Rewinding twice restores step 0's outcome: the first rewind re-arms
	// step 1 without changing the visible frames, the second walks the
	// display back to step 0
	sched.StepBackward()
	if !sched.StepBackward() {
		t.Fatal("Expected second StepBackward to succeed")
	}

	record, ok = sched.CurrentRecord()
	if !ok || record.StepIndex != 0 {
		t.Errorf("Expected cursor record for step 0 after rewinds, got %+v ok=%v", record, ok)
	}
	if !intsEqual(record.FrameState, []int{1, EmptyFrame}) {
		t.Errorf("Expected cursor frames [1 -], got %v", record.FrameState)
	}

	last, _ := sched.LastResult()
	if last.StepIndex != 1 {
		t.Errorf("Expected last applied result to stay at step 1, got %d", last.StepIndex)
	}
}

func TestAutoplayRunsToCompletion(t *testing.T) {
	sched, clock, notifyCh := newTestScheduler(t, 2, []int{1, 2, 3})

	if !sched.Start() {
		t.Fatal("Expected Start to succeed")
	}
	if sched.Start() {
		t.Error("Expected second Start to refuse while playing")
	}

	for i := 0; i < 3; i++ {
		clock.tick(t)
		waitNotify(t, notifyCh)
	}

	sched.Close()

	state := sched.State()
	if state.Playing {
		t.Error("Expected playback to stop at completion")
	}
	if !state.Complete {
		t.Errorf("Expected completion, at step %d of %d", state.CurrentStep, state.TotalSteps)
	}
	if state.Engine.FaultCount != 3 {
		t.Errorf("Expected 3 faults, got %d", state.Engine.FaultCount)
	}

	if sched.Start() {
		t.Error("Expected Start to refuse when complete")
	}
}

func TestPauseCancelsPendingStep(t *testing.T) {
	sched, clock, notifyCh := newTestScheduler(t, 2, []int{1, 2, 3, 4})

	if !sched.Start() {
		t.Fatal("Expected Start to succeed")
	}

	clock.tick(t)
	waitNotify(t, notifyCh)

	if !sched.Pause() {
		t.Fatal("Expected Pause to succeed while playing")
	}
	if sched.Pause() {
		t.Error("Expected second Pause to report not playing")
	}

	// Wait the loop out, then confirm nothing else ran
	sched.Close()

	state := sched.State()
	if state.Playing {
		t.Error("Expected paused state")
	}
	if state.CurrentStep != 1 {
		t.Errorf("Expected exactly one applied step, got %d", state.CurrentStep)
	}
	select {
	case <-notifyCh:
		t.Error("Unexpected render notification after pause")
	default:
	}
}

func TestPauseFromRenderCallback(t *testing.T) {
	engine := newTestEngine(t, 2, []int{1, 2, 3})
	clock := newFakeClock()
	notified := make(chan struct{}, 8)

	var sched *Scheduler
	config := DefaultSchedulerConfig()
	config.Clock = clock
	sched, err := NewScheduler(engine, func() {
		sched.Pause()
		notified <- struct{}{}
	}, config)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if !sched.Start() {
		t.Fatal("Expected Start to succeed")
	}
	clock.tick(t)
	waitNotify(t, notified)

	sched.Close()

	state := sched.State()
	if state.Playing {
		t.Error("Expected pause from callback to stick")
	}
	if state.CurrentStep != 1 {
		t.Errorf("Expected one applied step, got %d", state.CurrentStep)
	}
}

func TestAutoplayStopsOnEngineFailure(t *testing.T) {
	engine := &failingEngine{metrics: NewMetrics()}
	clock := newFakeClock()
	notifyCh := make(chan struct{}, 8)

	config := DefaultSchedulerConfig()
	config.Clock = clock
	sched, err := NewScheduler(engine, func() { notifyCh <- struct{}{} }, config)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if !sched.Start() {
		t.Fatal("Expected Start to succeed")
	}
	clock.tick(t)
	sched.Close()

	if sched.IsPlaying() {
		t.Error("Expected engine failure to pause playback")
	}
	if got := sched.State().CurrentStep; got != 0 {
		t.Errorf("Expected no applied steps, got %d", got)
	}
	select {
	case <-notifyCh:
		t.Error("Unexpected render notification for failed step")
	default:
	}

	// Manual driving absorbs the failure the same way
	if result := sched.StepForward(); result != nil {
		t.Errorf("Expected nil result from failing engine, got %+v", result)
	}
}

func TestStepBackwardAbsorbsEngineFailure(t *testing.T) {
	inner := newTestEngine(t, 2, []int{1, 2})
	engine := &brokenRewindEngine{Engine: inner}

	sched, err := NewScheduler(engine, nil, DefaultSchedulerConfig())
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if sched.StepForward() == nil {
		t.Fatal("Expected forward step to succeed")
	}
	if sched.StepBackward() {
		t.Error("Expected StepBackward to absorb the engine failure")
	}
	if sched.IsPlaying() {
		t.Error("Expected scheduler to remain paused")
	}

	// The counter keeps the decrement even though the restore failed
	state := sched.State()
	if state.CurrentStep != 0 {
		t.Errorf("Expected scheduler step 0 after absorbed failure, got %d", state.CurrentStep)
	}
	if state.CanStepBackward {
		t.Error("Expected CanStepBackward false at step zero")
	}
}

func TestSetSpeed(t *testing.T) {
	sched, clock, notifyCh := newTestScheduler(t, 2, []int{1, 2, 3})

	sched.SetSpeed(250)
	if got := sched.State().SpeedMs; got != 250 {
		t.Errorf("Expected speed 250, got %d", got)
	}

	// Non-positive updates are ignored
	sched.SetSpeed(0)
	sched.SetSpeed(-100)
	if got := sched.State().SpeedMs; got != 250 {
		t.Errorf("Expected speed to stay 250, got %d", got)
	}

	if !sched.Start() {
		t.Fatal("Expected Start to succeed")
	}
	clock.tick(t)
	waitNotify(t, notifyCh)
	if got := clock.lastWait(); got != 250*time.Millisecond {
		t.Errorf("Expected armed wait of 250ms, got %v", got)
	}

	sched.Pause()
	sched.Close()
}

func TestSchedulerMetrics(t *testing.T) {
	sched, clock, notifyCh := newTestScheduler(t, 2, []int{1, 2, 3, 4})

	if !sched.Start() {
		t.Fatal("Expected Start to succeed")
	}
	clock.tick(t)
	waitNotify(t, notifyCh)
	clock.tick(t)
	waitNotify(t, notifyCh)
	sched.Pause()
	sched.Close()

	sched.StepForward()
	waitNotify(t, notifyCh)

	if got := sched.metrics.GetTimedSteps(); got != 2 {
		t.Errorf("Expected 2 timed steps, got %d", got)
	}
	if got := sched.metrics.GetManualSteps(); got != 1 {
		t.Errorf("Expected 1 manual step, got %d", got)
	}
	if got := sched.metrics.GetPauses(); got != 1 {
		t.Errorf("Expected 1 pause, got %d", got)
	}
}

// failingEngine rejects every operation, standing in for a broken engine
type failingEngine struct {
	metrics *Metrics
}

func (f *failingEngine) ProcessPageReference(stepIndex int) (StepResult, error) {
	return StepResult{}, ErrStepOutOfRange("ProcessPageReference", stepIndex, 0)
}

func (f *failingEngine) RestoreToStep(stepIndex int) error {
	return ErrRestoreOutOfRange("RestoreToStep", stepIndex, 0)
}

func (f *failingEngine) CurrentState() EngineState {
	return EngineState{}
}

func (f *failingEngine) TotalSteps() int {
	return 5
}

func (f *failingEngine) History() *StepHistory {
	return NewStepHistory(0)
}

func (f *failingEngine) Metrics() *Metrics {
	return f.metrics
}

// brokenRewindEngine steps normally but refuses to rewind
type brokenRewindEngine struct {
	*Engine
}

func (b *brokenRewindEngine) RestoreToStep(stepIndex int) error {
	return NewSimError(ErrCodeInternal, "RestoreToStep", "rewind disabled", nil)
}
