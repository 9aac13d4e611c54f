// Package hookline wires the hook engine together: persistent hook
// definitions, a filesystem watcher, AI providers and the dispatch pipeline
// that turns file events into hook executions.
package hookline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/cooldown"
	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/match"
	"github.com/hookline/hookline/internal/registry"
	"github.com/hookline/hookline/internal/retry"
	"github.com/hookline/hookline/internal/runner"
	"github.com/hookline/hookline/internal/watch"
	"github.com/hookline/hookline/pkg/config"
	"github.com/hookline/hookline/pkg/errors"
	"github.com/hookline/hookline/pkg/events"
	"github.com/hookline/hookline/pkg/monitoring"
	"github.com/hookline/hookline/pkg/provider"
	"github.com/hookline/hookline/pkg/store"
	"github.com/hookline/hookline/pkg/types"
	"github.com/hookline/hookline/pkg/validation"
)

// Engine is the top-level entry point. It owns every subsystem and exposes
// the hook CRUD surface, manual triggering and lifecycle control.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	backend   store.Backend
	hooks     *store.HookStore
	providers *provider.Registry
	emitter   *events.Emitter
	disp      *dispatch.Dispatcher
	watcher   *watch.Watcher

	mu      sync.RWMutex
	defs    map[string]*types.Hook // active definitions, by id
	started bool
	closed  bool

	wg sync.WaitGroup
}

// New builds an engine from the given configuration. Nil means defaults.
// Hook definitions already present in the store are loaded into the active
// set; the watcher does not start observing until Start.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log)

	backend, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	emitter := events.NewEmitter(logger)
	metrics := monitoring.NewCollector()

	run := runner.New(providers, runner.Config{
		WorkspaceRoot: cfg.Runner.WorkspaceRoot,
		MaxTokens:     cfg.Runner.MaxTokens,
	}, logger)

	disp := dispatch.New(dispatch.Config{
		PacingDelay:  cfg.Dispatch.PacingDelay,
		RestartGrace: cfg.Dispatch.RestartGrace,
	}, run,
		match.New(),
		cooldown.New(cfg.Dispatch.CooldownWindow),
		registry.New(),
		emitter, metrics, logger)

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		hooks:     store.NewHookStore(backend),
		providers: providers,
		emitter:   emitter,
		disp:      disp,
		defs:      make(map[string]*types.Hook),
	}

	if err := e.loadHooks(); err != nil {
		e.shutdown()
		return nil, err
	}

	return e, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func buildProviders(cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	strategy := retry.NewExponentialStrategy().
		WithMaxRetries(cfg.Retry.MaxRetries).
		WithBaseDelay(cfg.Retry.BaseDelay).
		WithMaxDelay(cfg.Retry.MaxDelay).
		WithJitter(cfg.Retry.Jitter, 0.1)

	for _, pc := range cfg.Providers {
		var (
			p   provider.Provider
			err error
		)
		switch pc.Kind {
		case "http":
			p, err = provider.NewHTTPProvider(provider.HTTPOptions{
				Name:     pc.Name,
				Endpoint: pc.Endpoint,
				APIKey:   os.Getenv(pc.APIKeyEnv),
				Model:    pc.Model,
				Retry:    strategy,
				Logger:   logger,
			})
		case "cli":
			p, err = provider.NewCLIProvider(pc.Name, pc.Command, pc.Args...)
		default:
			err = fmt.Errorf("unknown provider kind %q", pc.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %s: %w", pc.Name, err)
		}

		if pc.CallsPerMinute > 0 {
			p = provider.NewThrottled(p, provider.NewRateThrottle(pc.CallsPerMinute))
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	if cfg.DefaultProvider != "" {
		if err := reg.SetDefault(cfg.DefaultProvider); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func (e *Engine) loadHooks() error {
	ctx := context.Background()
	hooks, err := e.hooks.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load hooks: %w", err)
	}
	for _, h := range hooks {
		e.defs[h.ID] = h
	}
	e.logger.Info("hooks loaded", "count", len(hooks))
	return nil
}

// Start begins observing the configured watch roots. It is a no-op when the
// watcher is disabled; manual triggers work regardless.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.ErrEngineClosed
	}
	if e.started {
		return nil
	}

	if !e.cfg.Watch.Enabled {
		e.started = true
		e.emitter.Emit(events.NewEvent(events.EventEngineStarted, nil, "engine"))
		return nil
	}

	w, err := watch.New(e.logger)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	for _, root := range e.cfg.Watch.Roots {
		if err := w.AddRoot(root); err != nil {
			_ = w.Close()
			return err
		}
	}
	e.watcher = w
	e.started = true

	e.wg.Add(1)
	go e.watchLoop(w.Events())

	e.emitter.Emit(events.NewEvent(events.EventEngineStarted, nil, "engine"))
	return nil
}

func (e *Engine) watchLoop(ch <-chan watch.Event) {
	defer e.wg.Done()
	for ev := range ch {
		e.dispatch(&types.TriggerContext{
			FilePath: ev.Path,
			Kind:     ev.Kind,
			Time:     ev.Time,
		})
	}
}

// dispatch fans one trigger out to the hooks subscribed to its kind. The
// dispatcher consumes generated-file markers once per event, so candidates
// are collected first and handed over together.
func (e *Engine) dispatch(trigger *types.TriggerContext) {
	e.mu.RLock()
	candidates := make([]*types.Hook, 0, len(e.defs))
	for _, h := range e.defs {
		if h.IsActive && kindMatches(h.TriggerKind, trigger.Kind) {
			candidates = append(candidates, h)
		}
	}
	e.mu.RUnlock()

	e.disp.DispatchEvent(candidates, trigger)
}

// kindMatches reports whether a hook bound to hookKind should see an event
// of eventKind. An on-change hook also reacts to saves and creates, since
// both alter content.
func kindMatches(hookKind, eventKind types.TriggerKind) bool {
	if hookKind == eventKind {
		return true
	}
	if hookKind == types.TriggerOnChange {
		return eventKind == types.TriggerOnSave || eventKind == types.TriggerOnCreate
	}
	return false
}

// AddHook validates, persists and activates a new hook definition. A missing
// ID is filled with a generated one.
func (e *Engine) AddHook(ctx context.Context, hook *types.Hook) error {
	if hook != nil && hook.ID == "" {
		hook.ID = uuid.New().String()
	}
	if err := validation.ValidateHook(hook); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.ErrEngineClosed
	}
	if _, exists := e.defs[hook.ID]; exists {
		return errors.Wrap(errors.ErrInvalidHook, errors.CodeInvalidHook,
			fmt.Sprintf("hook %s already exists", hook.ID))
	}

	if err := e.hooks.Save(ctx, hook); err != nil {
		e.emitter.Emit(events.NewEvent(events.EventStoreFailed, hook.ID, "store"))
		return err
	}
	e.emitter.Emit(events.NewEvent(events.EventStoreSaved, hook.ID, "store"))

	cp := *hook
	e.defs[hook.ID] = &cp
	e.emitter.Emit(events.NewEvent(events.EventHookAdded, cp, "engine"))
	return nil
}

// UpdateHook replaces an existing hook definition. The running state of any
// in-flight execution is untouched; the new definition applies from the next
// trigger on.
func (e *Engine) UpdateHook(ctx context.Context, hook *types.Hook) error {
	if err := validation.ValidateHook(hook); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.ErrEngineClosed
	}
	if _, exists := e.defs[hook.ID]; !exists {
		return fmt.Errorf("hook %s: %w", hook.ID, errors.ErrHookNotFound)
	}

	if err := e.hooks.Save(ctx, hook); err != nil {
		e.emitter.Emit(events.NewEvent(events.EventStoreFailed, hook.ID, "store"))
		return err
	}
	e.emitter.Emit(events.NewEvent(events.EventStoreSaved, hook.ID, "store"))

	cp := *hook
	e.defs[hook.ID] = &cp
	e.emitter.Emit(events.NewEvent(events.EventHookUpdated, cp, "engine"))
	return nil
}

// RemoveHook cancels any live execution of the hook, removes it from the
// store and deactivates it.
func (e *Engine) RemoveHook(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.defs[id]; !exists {
		return fmt.Errorf("hook %s: %w", id, errors.ErrHookNotFound)
	}

	e.disp.StopHook(id)
	if err := e.hooks.Delete(ctx, id); err != nil {
		return err
	}
	delete(e.defs, id)
	e.emitter.Emit(events.NewEvent(events.EventHookRemoved, id, "engine"))
	return nil
}

// GetHook returns a copy of one hook definition with its live running state
// filled in.
func (e *Engine) GetHook(id string) (*types.Hook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h, ok := e.defs[id]
	if !ok {
		return nil, fmt.Errorf("hook %s: %w", id, errors.ErrHookNotFound)
	}
	cp := *h
	cp.IsRunning = e.disp.IsRunning(id)
	return &cp, nil
}

// Hooks returns copies of all active definitions, sorted by ID, with live
// running state filled in.
func (e *Engine) Hooks() []*types.Hook {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*types.Hook, 0, len(e.defs))
	for _, h := range e.defs {
		cp := *h
		cp.IsRunning = e.disp.IsRunning(h.ID)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Trigger injects a manual file event, the only path that can deliver
// on-open. The event flows through the same suppression, matching and
// queueing as watcher events.
func (e *Engine) Trigger(trigger *types.TriggerContext) error {
	if trigger == nil || trigger.FilePath == "" {
		return errors.New(errors.CodeInvalidHook, "trigger requires a file path")
	}
	if !trigger.Kind.Valid() {
		return errors.New(errors.CodeInvalidHook,
			fmt.Sprintf("unknown trigger kind %q", trigger.Kind))
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return errors.ErrEngineClosed
	}

	e.dispatch(trigger)
	return nil
}

// StopHook requests cooperative cancellation of the hook's live execution,
// if any.
func (e *Engine) StopHook(id string) {
	e.disp.StopHook(id)
}

// ResetCooldown clears cooldown state for a hook, optionally limited to
// specific file paths.
func (e *Engine) ResetCooldown(id string, filePaths ...string) {
	e.disp.ResetCooldown(id, filePaths...)
}

// IsRunning reports whether the hook has a live execution.
func (e *Engine) IsRunning(id string) bool {
	return e.disp.IsRunning(id)
}

// Events exposes the engine's event emitter for status subscriptions.
func (e *Engine) Events() *events.Emitter {
	return e.emitter
}

// Metrics returns a snapshot of the dispatch counters.
func (e *Engine) Metrics() monitoring.Snapshot {
	return e.disp.Metrics().Snapshot()
}

// WaitIdle blocks until every queue is drained and every execution has
// settled, or the context expires.
func (e *Engine) WaitIdle(ctx context.Context) error {
	return e.disp.WaitIdle(ctx)
}

// Close shuts the engine down: the watcher stops first so no new events
// arrive, then the dispatcher cancels in-flight runs and drains, then the
// event emitter and the store close.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.emitter.Emit(events.NewEvent(events.EventEngineShutdown, nil, "engine"))
	return e.shutdown()
}

func (e *Engine) shutdown() error {
	var firstErr error

	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.wg.Wait()
	}

	e.disp.Close()
	e.emitter.Close()

	if err := e.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
