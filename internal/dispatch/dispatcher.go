// Package dispatch implements the hook dispatcher: the component that
// decides, for every incoming file event, whether a matching hook runs now,
// queues, preempts a running execution, or is suppressed.
//
// Every file path owns at most one pending queue and one drain loop, which
// is the serialization point: entries for the same file never overlap,
// regardless of execution mode. Execution mode only governs whether the same
// hook may hold live runs for different files at once.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/cooldown"
	"github.com/hookline/hookline/internal/match"
	"github.com/hookline/hookline/internal/registry"
	hookerrors "github.com/hookline/hookline/pkg/errors"
	"github.com/hookline/hookline/pkg/events"
	"github.com/hookline/hookline/pkg/monitoring"
	"github.com/hookline/hookline/pkg/types"
)

const (
	// DefaultPacingDelay is the pause between two drained entries of the
	// same file queue, so back-to-back AI calls do not pile onto the
	// backend.
	DefaultPacingDelay = 500 * time.Millisecond

	// DefaultRestartGrace is how long a restart waits after cancelling the
	// old run before starting the new one, giving the in-flight work a
	// chance to observe cancellation.
	DefaultRestartGrace = 100 * time.Millisecond
)

// Config holds dispatcher tuning knobs.
type Config struct {
	PacingDelay  time.Duration
	RestartGrace time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.PacingDelay <= 0 {
		out.PacingDelay = DefaultPacingDelay
	}
	if out.RestartGrace <= 0 {
		out.RestartGrace = DefaultRestartGrace
	}
	return out
}

// Dispatcher receives trigger events, filters them, serializes them per file
// path and drives hook executions through the runner while keeping the
// registry, cooldown tracker and status events consistent.
type Dispatcher struct {
	cfg      Config
	runner   types.Runner
	matcher  *match.Matcher
	cooldown *cooldown.Tracker
	registry *registry.Registry
	emitter  *events.Emitter
	metrics  *monitoring.Collector
	logger   *slog.Logger

	// baseCtx is cancelled on Close so in-flight runner calls see
	// cancellation at their next suspension point.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	queues map[string]*fileQueue
	seq    uint64
	closed bool

	// done is closed on Close; pacing and restart-grace sleeps abort on it.
	done chan struct{}

	// drains tracks live drain loops so tests can wait for quiescence.
	drains sync.WaitGroup
}

// New creates a Dispatcher. The runner, matcher, cooldown tracker, registry
// and emitter are required collaborators; metrics and logger may be nil.
func New(cfg Config, runner types.Runner, matcher *match.Matcher, cd *cooldown.Tracker,
	reg *registry.Registry, emitter *events.Emitter, metrics *monitoring.Collector,
	logger *slog.Logger,
) *Dispatcher {
	if metrics == nil {
		metrics = monitoring.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		runner:   runner,
		matcher:  matcher,
		cooldown: cd,
		registry: reg,
		emitter:  emitter,
		metrics:  metrics,
		logger:   logger.With("component", "dispatcher"),
		baseCtx:  ctx,
		cancel:   cancel,
		queues:   make(map[string]*fileQueue),
		done:     make(chan struct{}),
	}
}

// OnTriggerEvent is the dispatcher entry point for one raw trigger event
// aimed at a single hook.
func (d *Dispatcher) OnTriggerEvent(hook *types.Hook, trigger *types.TriggerContext) {
	d.DispatchEvent([]*types.Hook{hook}, trigger)
}

// DispatchEvent fans one file event out to a set of candidate hooks.
// Suppression runs once per event, before pattern matching, so a
// generated-file marker is consumed even when no hook's scope matches,
// and suppresses the event for every candidate at once.
func (d *Dispatcher) DispatchEvent(hooks []*types.Hook, trigger *types.TriggerContext) {
	d.metrics.TriggerSeen()

	if d.registry.ConsumeIfGenerated(trigger.FilePath) {
		d.metrics.Dropped(monitoring.DropSuppressed)
		d.logger.Debug("event suppressed, file was hook-generated",
			"file", trigger.FilePath)
		return
	}

	for _, hook := range hooks {
		if !d.matcher.Matches(trigger.FilePath, hook.ScopePattern) {
			d.metrics.Dropped(monitoring.DropNoMatch)
			continue
		}
		d.enqueue(hook, trigger)
	}
}

// enqueue appends the pair onto the file's queue, re-sorting by priority,
// and starts a drain loop when the queue transitions from absent to live.
func (d *Dispatcher) enqueue(hook *types.Hook, trigger *types.TriggerContext) {
	hookCopy := *hook

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	d.seq++
	entry := &pendingExecution{hook: &hookCopy, trigger: trigger, seq: d.seq}

	q, live := d.queues[trigger.FilePath]
	if !live {
		q = &fileQueue{}
		d.queues[trigger.FilePath] = q
	}
	q.push(entry)
	d.metrics.Enqueued()

	if !live {
		d.drains.Add(1)
		go d.drain(trigger.FilePath)
	}
	d.mu.Unlock()
}

// drain is the sequential consumer of one file's queue. It runs until the
// queue empties, then removes the queue entry entirely. One hook's failure
// never blocks the entries behind it.
func (d *Dispatcher) drain(filePath string) {
	defer d.drains.Done()

	for {
		d.mu.Lock()
		q := d.queues[filePath]
		if q == nil || q.len() == 0 {
			delete(d.queues, filePath)
			d.mu.Unlock()
			return
		}
		entry := q.pop()
		d.mu.Unlock()

		d.scheduleExecution(entry.hook, entry.trigger)

		d.mu.Lock()
		more := d.queues[filePath] != nil && d.queues[filePath].len() > 0
		d.mu.Unlock()

		if more && !d.sleep(d.cfg.PacingDelay) {
			// Shutdown during pacing; the next loop iteration sees the
			// cleared queue map and exits.
			continue
		}
	}
}

// scheduleExecution applies the hook's execution-mode policy, then runs the
// guarded execution. Rejections are silent drops, never errors.
func (d *Dispatcher) scheduleExecution(hook *types.Hook, trigger *types.TriggerContext) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}

	mode := hook.ExecutionMode
	if !mode.Valid() {
		mode = types.ModeSingle
	}

	switch mode {
	case types.ModeMultiple:
		// No per-hook restriction at all.

	case types.ModeSingle:
		if d.registry.IsRunning(hook.ID) {
			d.metrics.Dropped(monitoring.DropBusy)
			d.logger.Debug("drop trigger, hook already running",
				"hook", hook.ID, "file", trigger.FilePath)
			return
		}
		if !d.cooldown.CanRun(hook.ID, trigger.FilePath) {
			d.metrics.Dropped(monitoring.DropCooldown)
			d.logger.Debug("drop trigger, cooldown window active",
				"hook", hook.ID, "file", trigger.FilePath)
			return
		}

	case types.ModeRestart:
		if d.registry.IsRunning(hook.ID) {
			d.logger.Info("restarting hook, cancelling in-flight run", "hook", hook.ID)
			d.registry.Cancel(hook.ID)
			// Fire-and-forget on the old run; it self-terminates through
			// its handle. The grace delay only improves the odds it has
			// already observed cancellation.
			if !d.sleep(d.cfg.RestartGrace) {
				// Close happened during the grace delay; no fresh run.
				return
			}
		}
	}

	d.runWithGuards(hook, trigger)
}

// runWithGuards holds the innermost re-entrancy lock around one execution:
// no second run of the same hook for the same exact file may enter while the
// first is inside the critical path, whatever the execution mode says.
func (d *Dispatcher) runWithGuards(hook *types.Hook, trigger *types.TriggerContext) {
	if d.registry.IsProcessing(hook.ID, trigger.FilePath) {
		d.metrics.Dropped(monitoring.DropReentrant)
		d.logger.Debug("drop trigger, re-entrant execution",
			"hook", hook.ID, "file", trigger.FilePath)
		return
	}

	d.registry.MarkProcessing(hook.ID, trigger.FilePath)
	defer d.registry.UnmarkProcessing(hook.ID, trigger.FilePath)

	d.cooldown.Record(hook.ID, trigger.FilePath)

	d.execute(hook, trigger)
}

// execute owns the begin/end boundary around the runner call. Whatever the
// runner does, every successful Begin is matched by exactly one End, and a
// status event is emitted for both transitions.
func (d *Dispatcher) execute(hook *types.Hook, trigger *types.TriggerContext) {
	// Multiple mode places no per-hook limit, so each run claims its own
	// slot; single and restart keep the one-slot semantics.
	handle, err := d.registry.Begin(hook.ID, hook.ExecutionMode == types.ModeMultiple)
	if err != nil {
		// Lost a race with another run of the same hook (different file
		// queue). Treated like a busy drop.
		d.metrics.Dropped(monitoring.DropBusy)
		d.logger.Debug("drop trigger, execution slot taken",
			"hook", hook.ID, "file", trigger.FilePath)
		return
	}

	d.metrics.ExecutionStarted()
	d.emitter.Emit(events.NewEvent(events.EventHookStarted, types.HookStatus{
		HookID:      hook.ID,
		ExecutionID: handle.ExecutionID(),
		Running:     true,
	}, "dispatcher"))

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = hookerrors.New(hookerrors.CodeUnknown, "hook execution panicked")
				d.logger.Error("runner panic", "hook", hook.ID, "panic", r)
			}
		}()

		var result *types.RunResult
		result, runErr = d.runner.Run(d.baseCtx, hook, trigger, handle)
		if runErr == nil && result != nil {
			for _, written := range result.WrittenFiles {
				d.registry.MarkGenerated(written)
			}
		}
	}()

	d.registry.End(hook.ID, handle)
	d.emitStatus(hook, handle, runErr)
}

// emitStatus translates how the run settled into the finished notification.
func (d *Dispatcher) emitStatus(hook *types.Hook, handle *registry.Handle, runErr error) {
	status := types.HookStatus{
		HookID:       hook.ID,
		ExecutionID:  handle.ExecutionID(),
		Running:      false,
		LastExecuted: time.Now(),
	}

	switch {
	case runErr == nil:
		d.metrics.ExecutionSucceeded()
		d.emitter.Emit(events.NewEvent(events.EventHookCompleted, status, "dispatcher"))

	case hookerrors.IsCancelled(runErr):
		// A normal, distinguishable completion, not a failure.
		d.metrics.ExecutionCancelled()
		d.logger.Info("hook stopped", "hook", hook.ID)
		d.emitter.Emit(events.NewEvent(events.EventHookStopped, status, "dispatcher"))

	default:
		d.metrics.ExecutionFailed()
		status.Err = runErr
		d.logger.Error("hook execution failed", "hook", hook.ID, "error", runErr)
		d.emitter.Emit(events.NewEvent(events.EventHookFailed, status, "dispatcher"))
	}
}

// StopHook requests cancellation of the hook's in-flight run, if any.
func (d *Dispatcher) StopHook(hookID string) {
	d.registry.Cancel(hookID)
}

// ResetCooldown clears cooldown state for a hook, optionally scoped to
// specific files, so a forced re-run bypasses the quiescence window.
func (d *Dispatcher) ResetCooldown(hookID string, filePaths ...string) {
	d.cooldown.Reset(hookID, filePaths...)
}

// IsRunning reports whether the hook currently holds a live execution.
func (d *Dispatcher) IsRunning(hookID string) bool {
	return d.registry.IsRunning(hookID)
}

// QueueDepth returns the number of pending entries for a file path. Zero
// means the queue structure no longer exists.
func (d *Dispatcher) QueueDepth(filePath string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[filePath]
	if q == nil {
		return 0
	}
	return q.len()
}

// Metrics exposes the dispatcher's counters.
func (d *Dispatcher) Metrics() *monitoring.Collector {
	return d.metrics
}

// WaitIdle blocks until every drain loop has exited or the context is done.
// Primarily used by tests and orderly shutdown.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		d.drains.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disposes the dispatcher: cancel every live handle, then clear all
// queues, then clear cooldown and marker state, in that order, so no
// dangling callback fires against torn-down bookkeeping. In-flight runner
// calls settle on their own through the cancelled handles and context.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.registry.CancelAll()
	d.cancel()
	close(d.done)

	d.mu.Lock()
	d.queues = make(map[string]*fileQueue)
	d.mu.Unlock()

	d.cooldown.Clear()
	d.registry.Reset()
}

// sleep pauses for dur, returning false if Close happened first.
func (d *Dispatcher) sleep(dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-d.done:
		return false
	}
}
