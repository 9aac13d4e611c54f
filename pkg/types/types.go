// Package types defines the core types and interfaces for the hookline automation engine.
package types

import (
	"context"
	"time"
)

// TriggerKind identifies the editor/filesystem event a hook is bound to.
type TriggerKind string

const (
	// TriggerOnSave fires when a file is saved by the editor.
	TriggerOnSave TriggerKind = "on-save"

	// TriggerOnChange fires on any content change, including external writes.
	TriggerOnChange TriggerKind = "on-change"

	// TriggerOnOpen fires when a file is opened. Only delivered through the
	// manual trigger API; filesystem watchers cannot observe opens.
	TriggerOnOpen TriggerKind = "on-open"

	// TriggerOnCreate fires when a new file appears.
	TriggerOnCreate TriggerKind = "on-create"

	// TriggerOnDelete fires when a file is removed.
	TriggerOnDelete TriggerKind = "on-delete"
)

// Valid reports whether the trigger kind is one of the known values.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerOnSave, TriggerOnChange, TriggerOnOpen, TriggerOnCreate, TriggerOnDelete:
		return true
	}
	return false
}

// ExecutionMode governs how concurrent invocations of the same hook are handled.
type ExecutionMode string

const (
	// ModeSingle allows at most one live run per hook; extra triggers while
	// busy are dropped, not queued.
	ModeSingle ExecutionMode = "single"

	// ModeMultiple places no per-hook restriction; the same hook may run for
	// several files at once.
	ModeMultiple ExecutionMode = "multiple"

	// ModeRestart cancels the in-flight run and starts a fresh one.
	ModeRestart ExecutionMode = "restart"
)

// Valid reports whether the execution mode is one of the known values.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeSingle, ModeMultiple, ModeRestart:
		return true
	}
	return false
}

// Priority bounds for hook scheduling.
const (
	MinPriority = 0
	MaxPriority = 100
)

// MatchAllPattern is the scope pattern sentinel that matches every path.
const MatchAllPattern = "**"

// Hook is a user-defined rule binding a trigger condition to an AI-driven
// action. Definitions are owned by the persistence layer; the engine mutates
// only the runtime state (IsRunning) as executions start and stop.
type Hook struct {
	// ID is an opaque unique identifier, stable for the hook's lifetime.
	ID string `json:"id"`

	// Name is a short human-readable label.
	Name string `json:"name,omitempty"`

	// Instruction is the natural-language description of what the hook does
	// to a matching file ("when X happens, do Y").
	Instruction string `json:"instruction"`

	// ScopePattern holds one or more comma-separated glob segments limiting
	// which paths the hook reacts to. Empty means match everything.
	ScopePattern string `json:"scope_pattern,omitempty"`

	// TriggerKind selects which file event activates the hook.
	TriggerKind TriggerKind `json:"trigger_kind"`

	// ExecutionMode selects the concurrency policy for this hook.
	ExecutionMode ExecutionMode `json:"execution_mode"`

	// Priority orders hooks queued for the same file; higher runs first.
	// Valid range is 0 to 100.
	Priority int `json:"priority"`

	// IsActive controls whether the hook receives event subscriptions at all.
	IsActive bool `json:"is_active"`

	// IsRunning mirrors whether the engine currently holds a live execution
	// for this hook. Derived state; never persisted as truth.
	IsRunning bool `json:"is_running,omitempty"`

	// Provider optionally pins the hook to a named AI provider. Empty uses
	// the engine default.
	Provider string `json:"provider,omitempty"`

	// MaxSteps bounds the tool-use loop for multi-step hooks. Zero means
	// single-step.
	MaxSteps int `json:"max_steps,omitempty"`
}

// TriggerContext is the ephemeral value created for one file event. It is
// owned by the call that created it, passed through the queue to the
// execution unit, then discarded.
type TriggerContext struct {
	// FilePath is the forward-slash path of the file that fired the event.
	FilePath string

	// Kind is the event kind that produced this trigger.
	Kind TriggerKind

	// Content optionally carries a snapshot of the file at trigger time.
	Content string

	// Language optionally carries the detected language of the file.
	Language string

	// Time is when the event was observed.
	Time time.Time
}

// CancelSignal is the cooperative abort contract handed to a running
// execution. The unit of work checks it at every suspension point (before
// each AI call, before each file write) and returns early when signalled.
type CancelSignal interface {
	// Cancelled reports whether cancellation has been requested.
	Cancelled() bool

	// Done returns a channel closed when cancellation is requested.
	Done() <-chan struct{}
}

// RunResult describes how one hook execution settled.
type RunResult struct {
	// WrittenFiles lists workspace paths the execution wrote. The dispatcher
	// marks each one generated so the resulting save event is suppressed.
	WrittenFiles []string

	// Steps is the number of AI round trips the execution used.
	Steps int
}

// Runner is the unit-of-work boundary: one call executes one hook invocation,
// possibly a multi-step tool-calling loop, and must honor the cancel signal
// cooperatively. Implementations return errors.ErrCancelled (wrapped or not)
// when they stopped because of the signal.
type Runner interface {
	Run(ctx context.Context, hook *Hook, trigger *TriggerContext, cancel CancelSignal) (*RunResult, error)
}

// HookStatus is the payload of hook lifecycle status events.
type HookStatus struct {
	// HookID identifies the hook whose state changed.
	HookID string `json:"hook_id"`

	// ExecutionID identifies the specific run, unique per started execution.
	ExecutionID string `json:"execution_id,omitempty"`

	// Running reports the hook's running state after the transition.
	Running bool `json:"running"`

	// LastExecuted is set on completion transitions.
	LastExecuted time.Time `json:"last_executed,omitempty"`

	// Err carries the failure when the run ended in an error.
	Err error `json:"-"`
}
