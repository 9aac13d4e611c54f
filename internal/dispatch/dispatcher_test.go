package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hookline/hookline/internal/cooldown"
	"github.com/hookline/hookline/internal/match"
	"github.com/hookline/hookline/internal/registry"
	hookerrors "github.com/hookline/hookline/pkg/errors"
	"github.com/hookline/hookline/pkg/events"
	"github.com/hookline/hookline/pkg/types"
)

// stubRunner records executions and lets tests decide how each run settles.
type stubRunner struct {
	mu      sync.Mutex
	runs    []string // hookID for each run, in start order
	block   chan struct{}
	results map[string]error // by hook id; nil means success
	written map[string][]string
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		results: make(map[string]error),
		written: make(map[string][]string),
	}
}

func (s *stubRunner) Run(ctx context.Context, hook *types.Hook, trigger *types.TriggerContext, cancel types.CancelSignal) (*types.RunResult, error) {
	s.mu.Lock()
	s.runs = append(s.runs, hook.ID)
	block := s.block
	err := s.results[hook.ID]
	written := s.written[hook.ID]
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-cancel.Done():
			return nil, hookerrors.ErrCancelled
		case <-ctx.Done():
			return nil, hookerrors.ErrCancelled
		}
	}

	if cancel.Cancelled() {
		return nil, hookerrors.ErrCancelled
	}
	if err != nil {
		return nil, err
	}
	return &types.RunResult{WrittenFiles: written, Steps: 1}, nil
}

func (s *stubRunner) setBlock(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = ch
}

func (s *stubRunner) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.runs))
	copy(out, s.runs)
	return out
}

func (s *stubRunner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

type harness struct {
	dispatcher *Dispatcher
	runner     *stubRunner
	registry   *registry.Registry
	cooldown   *cooldown.Tracker
	emitter    *events.Emitter
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	runner := newStubRunner()
	reg := registry.New()
	cd := cooldown.New(cooldown.DefaultWindow)
	emitter := events.NewEmitter(nil)
	d := New(cfg, runner, match.New(), cd, reg, emitter, nil, nil)

	t.Cleanup(func() {
		d.Close()
		emitter.Close()
	})

	return &harness{dispatcher: d, runner: runner, registry: reg, cooldown: cd, emitter: emitter}
}

func fastConfig() Config {
	return Config{PacingDelay: time.Millisecond, RestartGrace: 5 * time.Millisecond}
}

func hook(id string, mode types.ExecutionMode, priority int) *types.Hook {
	return &types.Hook{
		ID:            id,
		Instruction:   "test instruction",
		ScopePattern:  "**",
		TriggerKind:   types.TriggerOnSave,
		ExecutionMode: mode,
		Priority:      priority,
		IsActive:      true,
	}
}

func trigger(path string) *types.TriggerContext {
	return &types.TriggerContext{FilePath: path, Kind: types.TriggerOnSave, Time: time.Now()}
}

func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.WaitIdle(ctx); err != nil {
		t.Fatalf("dispatcher did not go idle: %v", err)
	}
}

func TestDispatcher_PriorityOrdering(t *testing.T) {
	h := newHarness(t, fastConfig())

	// Block the head execution so the rest of the queue builds up behind
	// it; the entries behind the in-flight one must drain in priority
	// order, and the in-flight one is never preempted by a later
	// higher-priority enqueue.
	gate := make(chan struct{})
	h.runner.setBlock(gate)

	a := hook("A", types.ModeMultiple, 1)
	b := hook("B", types.ModeMultiple, 10)
	c := hook("C", types.ModeMultiple, 5)

	h.dispatcher.OnTriggerEvent(a, trigger("f.go"))

	deadline := time.Now().Add(2 * time.Second)
	for h.runner.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("head execution never started")
		}
		time.Sleep(time.Millisecond)
	}

	h.dispatcher.OnTriggerEvent(c, trigger("f.go"))
	h.dispatcher.OnTriggerEvent(b, trigger("f.go"))

	close(gate)
	waitIdle(t, h.dispatcher)

	got := h.runner.order()
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("expected %d executions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
}

func TestDispatcher_SingleModeExclusivity(t *testing.T) {
	h := newHarness(t, fastConfig())

	gate := make(chan struct{})
	h.runner.setBlock(gate)

	hk := hook("H", types.ModeSingle, 50)

	h.dispatcher.OnTriggerEvent(hk, trigger("a.go"))

	// Wait until the first execution is inside the boundary.
	deadline := time.Now().Add(2 * time.Second)
	for !h.registry.IsRunning("H") {
		if time.Now().After(deadline) {
			t.Fatal("first execution never started")
		}
		time.Sleep(time.Millisecond)
	}

	// Second trigger for any file while busy: dropped, not queued.
	h.dispatcher.OnTriggerEvent(hk, trigger("b.go"))

	close(gate)
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 1 {
		t.Errorf("expected 1 execution in single mode, got %d", got)
	}
	if h.registry.IsRunning("H") {
		t.Error("expected hook idle after settle")
	}
}

func TestDispatcher_MultipleModeConcurrency(t *testing.T) {
	h := newHarness(t, fastConfig())

	gate := make(chan struct{})
	h.runner.setBlock(gate)

	hk := hook("H", types.ModeMultiple, 50)

	h.dispatcher.OnTriggerEvent(hk, trigger("a.go"))
	h.dispatcher.OnTriggerEvent(hk, trigger("b.go"))
	h.dispatcher.OnTriggerEvent(hk, trigger("c.go"))

	// All three runs must start despite none having finished: distinct
	// files drain independently and multiple mode has no per-hook limit.
	deadline := time.Now().Add(2 * time.Second)
	for h.runner.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 concurrent executions, got %d", h.runner.count())
		}
		time.Sleep(time.Millisecond)
	}

	close(gate)
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 3 {
		t.Errorf("expected 3 executions, got %d", got)
	}
}

func TestDispatcher_RestartModePreemption(t *testing.T) {
	h := newHarness(t, fastConfig())

	gate := make(chan struct{})
	defer close(gate)
	h.runner.setBlock(gate)

	hk := hook("H", types.ModeRestart, 50)

	h.dispatcher.OnTriggerEvent(hk, trigger("a.go"))

	deadline := time.Now().Add(2 * time.Second)
	for !h.registry.IsRunning("H") {
		if time.Now().After(deadline) {
			t.Fatal("first execution never started")
		}
		time.Sleep(time.Millisecond)
	}

	// The first run stays parked on the gate until its cancel signal
	// fires; the replacement run must not block at all.
	h.runner.setBlock(nil)

	var stopped, completed int
	var mu sync.Mutex
	h.emitter.On(events.EventHookStopped, func(events.Event) {
		mu.Lock()
		stopped++
		mu.Unlock()
	})
	h.emitter.On(events.EventHookCompleted, func(events.Event) {
		mu.Lock()
		completed++
		mu.Unlock()
	})

	// New trigger for a different file preempts the blocked run.
	h.dispatcher.OnTriggerEvent(hk, trigger("b.go"))

	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 2 {
		t.Fatalf("expected 2 executions, got %d", got)
	}
	if h.registry.IsRunning("H") {
		t.Error("expected hook idle after both runs settled")
	}

	mu.Lock()
	defer mu.Unlock()
	if stopped != 1 {
		t.Errorf("expected 1 stopped notification for the preempted run, got %d", stopped)
	}
	if completed != 1 {
		t.Errorf("expected 1 completed notification for the new run, got %d", completed)
	}
}

func TestDispatcher_CooldownEnforcement(t *testing.T) {
	h := newHarness(t, fastConfig())

	hk := hook("H", types.ModeSingle, 50)

	h.dispatcher.OnTriggerEvent(hk, trigger("a.go"))
	waitIdle(t, h.dispatcher)

	// Second trigger for the same file inside the window: dropped.
	h.dispatcher.OnTriggerEvent(hk, trigger("a.go"))
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 1 {
		t.Fatalf("expected cooldown to drop the second run, got %d executions", got)
	}

	// Forced reset bypasses the window.
	h.dispatcher.ResetCooldown("H", "a.go")

	h.dispatcher.OnTriggerEvent(hk, trigger("a.go"))
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 2 {
		t.Errorf("expected run after cooldown reset, got %d executions", got)
	}
}

func TestDispatcher_SelfTriggerSuppression(t *testing.T) {
	h := newHarness(t, fastConfig())

	hk := hook("H", types.ModeMultiple, 50)
	h.registry.MarkGenerated("gen.go")

	// The very next event for the path is discarded regardless of pattern
	// or mode.
	h.dispatcher.OnTriggerEvent(hk, trigger("gen.go"))
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 0 {
		t.Fatalf("expected suppressed event, got %d executions", got)
	}

	// The marker is exactly single-use.
	h.dispatcher.OnTriggerEvent(hk, trigger("gen.go"))
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 1 {
		t.Errorf("expected second event to execute, got %d executions", got)
	}
}

func TestDispatcher_WrittenFilesMarkedGenerated(t *testing.T) {
	h := newHarness(t, fastConfig())

	hk := hook("H", types.ModeMultiple, 50)
	h.runner.written["H"] = []string{"out.go"}

	h.dispatcher.OnTriggerEvent(hk, trigger("in.go"))
	waitIdle(t, h.dispatcher)

	if !h.registry.ConsumeIfGenerated("out.go") {
		t.Error("expected written file to carry a generated marker")
	}
}

func TestDispatcher_QueueDrainsAndCleansUp(t *testing.T) {
	h := newHarness(t, fastConfig())

	gate := make(chan struct{})
	h.runner.setBlock(gate)

	a := hook("A", types.ModeMultiple, 3)
	b := hook("B", types.ModeMultiple, 2)
	c := hook("C", types.ModeMultiple, 1)

	// B fails in the middle of the queue; C must still run.
	h.runner.results["B"] = errors.New("backend exploded")

	h.dispatcher.OnTriggerEvent(a, trigger("f.go"))
	h.dispatcher.OnTriggerEvent(b, trigger("f.go"))
	h.dispatcher.OnTriggerEvent(c, trigger("f.go"))

	close(gate)
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 3 {
		t.Errorf("expected all 3 queued hooks to execute, got %d", got)
	}
	if depth := h.dispatcher.QueueDepth("f.go"); depth != 0 {
		t.Errorf("expected queue structure removed, depth = %d", depth)
	}
}

func TestDispatcher_FailureEmitsFailedEvent(t *testing.T) {
	h := newHarness(t, fastConfig())

	var failures []types.HookStatus
	var mu sync.Mutex
	h.emitter.On(events.EventHookFailed, func(e events.Event) {
		mu.Lock()
		failures = append(failures, e.Data.(types.HookStatus))
		mu.Unlock()
	})

	hk := hook("H", types.ModeMultiple, 50)
	h.runner.results["H"] = errors.New("provider down")

	h.dispatcher.OnTriggerEvent(hk, trigger("a.go"))
	waitIdle(t, h.dispatcher)

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure event, got %d", len(failures))
	}
	if failures[0].HookID != "H" || failures[0].Running {
		t.Errorf("unexpected failure payload: %+v", failures[0])
	}
	if failures[0].Err == nil {
		t.Error("expected failure payload to carry the error")
	}
}

func TestDispatcher_BeginEndBalance(t *testing.T) {
	h := newHarness(t, fastConfig())

	var started, finished int
	var mu sync.Mutex
	h.emitter.On(events.EventHookStarted, func(events.Event) {
		mu.Lock()
		started++
		mu.Unlock()
	})
	finish := func(events.Event) {
		mu.Lock()
		finished++
		mu.Unlock()
	}
	h.emitter.On(events.EventHookCompleted, finish)
	h.emitter.On(events.EventHookFailed, finish)
	h.emitter.On(events.EventHookStopped, finish)

	// Mixed outcomes: successes and failures on several files.
	ok := hook("ok", types.ModeMultiple, 1)
	bad := hook("bad", types.ModeMultiple, 1)
	h.runner.results["bad"] = errors.New("boom")

	for _, p := range []string{"a.go", "b.go", "c.go"} {
		h.dispatcher.OnTriggerEvent(ok, trigger(p))
		h.dispatcher.OnTriggerEvent(bad, trigger(p))
	}

	waitIdle(t, h.dispatcher)

	mu.Lock()
	defer mu.Unlock()
	if started == 0 || started != finished {
		t.Errorf("begin/end imbalance: started=%d finished=%d", started, finished)
	}
	if h.registry.RunningCount() != 0 {
		t.Errorf("expected no live executions, got %d", h.registry.RunningCount())
	}
}

func TestDispatcher_NoMatchDiscarded(t *testing.T) {
	h := newHarness(t, fastConfig())

	hk := hook("H", types.ModeMultiple, 50)
	hk.ScopePattern = "**/*.ts"

	h.dispatcher.OnTriggerEvent(hk, trigger("main.go"))
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 0 {
		t.Errorf("expected no execution for non-matching path, got %d", got)
	}
}

func TestDispatcher_StopHookCancelsInFlight(t *testing.T) {
	h := newHarness(t, fastConfig())

	gate := make(chan struct{})
	defer close(gate)
	h.runner.setBlock(gate)

	hk := hook("H", types.ModeSingle, 50)
	h.dispatcher.OnTriggerEvent(hk, trigger("a.go"))

	deadline := time.Now().Add(2 * time.Second)
	for !h.registry.IsRunning("H") {
		if time.Now().After(deadline) {
			t.Fatal("execution never started")
		}
		time.Sleep(time.Millisecond)
	}

	h.dispatcher.StopHook("H")
	waitIdle(t, h.dispatcher)

	if h.registry.IsRunning("H") {
		t.Error("expected execution released after cooperative stop")
	}

	snap := h.dispatcher.Metrics().Snapshot()
	if snap.ExecutionsCancelled != 1 {
		t.Errorf("expected 1 cancelled execution, got %d", snap.ExecutionsCancelled)
	}
}

func TestDispatcher_CloseCancelsEverything(t *testing.T) {
	runner := newStubRunner()
	reg := registry.New()
	cd := cooldown.New(time.Minute)
	emitter := events.NewEmitter(nil)
	d := New(fastConfig(), runner, match.New(), cd, reg, emitter, nil, nil)

	gate := make(chan struct{})
	defer close(gate)
	runner.setBlock(gate)

	hk := hook("H", types.ModeSingle, 50)
	d.OnTriggerEvent(hk, trigger("a.go"))

	deadline := time.Now().Add(2 * time.Second)
	for !reg.IsRunning("H") {
		if time.Now().After(deadline) {
			t.Fatal("execution never started")
		}
		time.Sleep(time.Millisecond)
	}

	cd.Record("H", "b.go")
	reg.MarkGenerated("c.go")

	d.Close()

	// Events after close are ignored.
	d.OnTriggerEvent(hk, trigger("z.go"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.WaitIdle(ctx); err != nil {
		t.Fatalf("drain loops did not exit after Close: %v", err)
	}

	if reg.IsRunning("H") {
		t.Error("expected in-flight run released after Close")
	}
	if !cd.CanRun("H", "b.go") {
		t.Error("expected cooldown state cleared on Close")
	}
	if reg.ConsumeIfGenerated("c.go") {
		t.Error("expected generated markers cleared on Close")
	}
	if got := runner.count(); got != 1 {
		t.Errorf("expected no executions after Close, got %d total", got)
	}

	emitter.Close()
}

func TestDispatcher_DispatchEventFansOut(t *testing.T) {
	h := newHarness(t, fastConfig())

	a := hook("A", types.ModeMultiple, 50)
	b := hook("B", types.ModeMultiple, 50)
	c := hook("C", types.ModeMultiple, 50)
	c.ScopePattern = "*.md" // does not match

	h.dispatcher.DispatchEvent([]*types.Hook{a, b, c}, trigger("x.go"))
	waitIdle(t, h.dispatcher)

	got := h.runner.order()
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}
	for _, id := range got {
		if id == "C" {
			t.Fatalf("non-matching hook ran: %v", got)
		}
	}
}

func TestDispatcher_DispatchEventConsumesMarkerOnce(t *testing.T) {
	h := newHarness(t, fastConfig())

	a := hook("A", types.ModeMultiple, 50)
	b := hook("B", types.ModeMultiple, 50)
	h.registry.MarkGenerated("gen.go")

	// One event, many candidate hooks: the marker suppresses the event for
	// all of them at once.
	h.dispatcher.DispatchEvent([]*types.Hook{a, b}, trigger("gen.go"))
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 0 {
		t.Fatalf("expected suppressed event to run no hooks, got %d", got)
	}

	// The marker is spent; the next event flows normally.
	h.dispatcher.DispatchEvent([]*types.Hook{a, b}, trigger("gen.go"))
	waitIdle(t, h.dispatcher)

	if got := h.runner.count(); got != 2 {
		t.Fatalf("expected 2 runs after marker consumed, got %d", got)
	}
}

func TestDispatcher_CloseDuringRestartGrace(t *testing.T) {
	h := newHarness(t, Config{PacingDelay: time.Millisecond, RestartGrace: 500 * time.Millisecond})

	stopped := make(chan struct{}, 1)
	h.emitter.On(events.EventHookStopped, func(events.Event) {
		stopped <- struct{}{}
	})

	gate := make(chan struct{})
	defer close(gate)
	h.runner.setBlock(gate)

	hk := hook("R", types.ModeRestart, 50)

	h.dispatcher.OnTriggerEvent(hk, trigger("a.go"))
	deadline := time.Now().Add(2 * time.Second)
	for h.runner.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	// The second event preempts the first run, then waits out the grace
	// delay before starting its replacement.
	h.dispatcher.OnTriggerEvent(hk, trigger("b.go"))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("preempted run never settled")
	}

	// Close lands inside the grace delay; the replacement must not start.
	h.dispatcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.dispatcher.WaitIdle(ctx); err != nil {
		t.Fatalf("drain loops did not exit: %v", err)
	}

	if got := h.runner.count(); got != 1 {
		t.Errorf("expected no replacement run after Close, got %d executions", got)
	}
}
