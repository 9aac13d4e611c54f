// Package events provides the status-event emitter the engine uses to notify
// consumers (UI, persistence) of hook state transitions.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	// Hook lifecycle events
	EventHookStarted   EventType = "hook_started"
	EventHookCompleted EventType = "hook_completed"
	EventHookFailed    EventType = "hook_failed"
	EventHookStopped   EventType = "hook_stopped"

	// Hook definition events
	EventHookAdded   EventType = "hook_added"
	EventHookUpdated EventType = "hook_updated"
	EventHookRemoved EventType = "hook_removed"

	// Store events
	EventStoreSaved  EventType = "store_saved"
	EventStoreFailed EventType = "store_failed"

	// Engine events
	EventEngineStarted  EventType = "engine_started"
	EventEngineShutdown EventType = "engine_shutdown"
)

// Event represents an event that occurs in the system
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Source    string      `json:"source"`
	ID        string      `json:"id,omitempty"`
}

// Listener is a function that handles events
type Listener func(event Event)

// listenerEntry holds a listener function and whether it should only run once
type listenerEntry struct {
	listener Listener
	once     bool
}

// Emitter manages event listeners and emits events
type Emitter struct {
	listeners map[EventType][]listenerEntry
	mu        sync.RWMutex
	closed    bool
	logger    *slog.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		listeners: make(map[EventType][]listenerEntry),
		logger:    logger,
	}
}

// On adds an event listener for the specified event type
func (e *Emitter) On(eventType EventType, listener Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.listeners[eventType] = append(e.listeners[eventType], listenerEntry{listener: listener})
}

// Once adds an event listener that will only be called once
func (e *Emitter) Once(eventType EventType, listener Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.listeners[eventType] = append(e.listeners[eventType], listenerEntry{listener: listener, once: true})
}

// Off removes the most recently added listener for the specified event type.
// Go functions are not comparable, so removal is positional.
func (e *Emitter) Off(eventType EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()

	listeners := e.listeners[eventType]
	if len(listeners) > 0 {
		e.listeners[eventType] = listeners[:len(listeners)-1]
	}

	if len(e.listeners[eventType]) == 0 {
		delete(e.listeners, eventType)
	}
}

// Emit delivers an event to all registered listeners synchronously, in
// registration order. Listener panics are caught and logged so one bad
// consumer cannot take down the dispatcher's status plumbing.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	entries := make([]listenerEntry, len(e.listeners[event.Type]))
	copy(entries, e.listeners[event.Type])

	// Drop once-listeners before delivery so a listener emitting the same
	// event type from its callback cannot re-enter itself.
	kept := e.listeners[event.Type][:0]
	for _, entry := range e.listeners[event.Type] {
		if !entry.once {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, event.Type)
	} else {
		e.listeners[event.Type] = kept
	}
	e.mu.Unlock()

	for _, entry := range entries {
		e.deliver(entry.listener, event)
	}
}

// EmitAsync delivers an event without blocking the caller. Ordering across
// events is not guaranteed; the dispatcher uses Emit for lifecycle events
// where ordering matters.
func (e *Emitter) EmitAsync(event Event) {
	go e.Emit(event)
}

func (e *Emitter) deliver(listener Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panic", "event", string(event.Type), "panic", r)
		}
	}()
	listener(event)
}

// ListenerCount returns the number of listeners for a specific event type
func (e *Emitter) ListenerCount(eventType EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.listeners[eventType])
}

// RemoveAllListeners removes all listeners for the given event types, or
// every listener when none are specified.
func (e *Emitter) RemoveAllListeners(eventTypes ...EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(eventTypes) == 0 {
		e.listeners = make(map[EventType][]listenerEntry)
		return
	}

	for _, et := range eventTypes {
		delete(e.listeners, et)
	}
}

// WaitFor blocks until an event of the given type is emitted or the context
// is done. Useful in tests and shutdown sequencing.
func (e *Emitter) WaitFor(ctx context.Context, eventType EventType) (Event, error) {
	eventChan := make(chan Event, 1)

	e.Once(eventType, func(event Event) {
		select {
		case eventChan <- event:
		default:
		}
	})

	select {
	case event := <-eventChan:
		return event, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close closes the emitter, drops all listeners and ignores further emits.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.listeners = make(map[EventType][]listenerEntry)
}

// IsClosed returns whether the emitter is closed
func (e *Emitter) IsClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.closed
}

// NewEvent is a helper to create an event with the current timestamp.
func NewEvent(eventType EventType, data interface{}, source string) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
	}
}
