// Package monitoring provides in-process metrics for the hookline engine.
package monitoring

import (
	"sync"
	"time"
)

// DropReason classifies why a trigger event did not lead to an execution.
type DropReason string

const (
	// DropSuppressed means the event was a hook's own file write.
	DropSuppressed DropReason = "suppressed"

	// DropNoMatch means the path fell outside the hook's scope pattern.
	DropNoMatch DropReason = "no_match"

	// DropBusy means a single-mode hook was already running.
	DropBusy DropReason = "busy"

	// DropCooldown means the quiescence window had not elapsed.
	DropCooldown DropReason = "cooldown"

	// DropReentrant means the (hook, file) pair was already inside the
	// critical execution path.
	DropReentrant DropReason = "reentrant"
)

// Collector counts engine activity. All methods are safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	triggersSeen int64
	enqueued     int64
	drops        map[DropReason]int64

	started   int64
	succeeded int64
	failed    int64
	cancelled int64

	lastActivity time.Time
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{drops: make(map[DropReason]int64)}
}

// TriggerSeen records an incoming trigger event.
func (c *Collector) TriggerSeen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.triggersSeen++
	c.lastActivity = time.Now()
}

// Enqueued records an event accepted onto a per-file queue.
func (c *Collector) Enqueued() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enqueued++
}

// Dropped records a silently discarded event.
func (c *Collector) Dropped(reason DropReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drops[reason]++
}

// ExecutionStarted records a run entering the execution boundary.
func (c *Collector) ExecutionStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.started++
}

// ExecutionSucceeded records a run that settled successfully.
func (c *Collector) ExecutionSucceeded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.succeeded++
}

// ExecutionFailed records a run that settled with an error.
func (c *Collector) ExecutionFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failed++
}

// ExecutionCancelled records a run that stopped through its cancel signal.
func (c *Collector) ExecutionCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelled++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TriggersSeen int64
	Enqueued     int64
	Drops        map[DropReason]int64

	ExecutionsStarted   int64
	ExecutionsSucceeded int64
	ExecutionsFailed    int64
	ExecutionsCancelled int64

	LastActivity time.Time
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	drops := make(map[DropReason]int64, len(c.drops))
	for k, v := range c.drops {
		drops[k] = v
	}

	return Snapshot{
		TriggersSeen:        c.triggersSeen,
		Enqueued:            c.enqueued,
		Drops:               drops,
		ExecutionsStarted:   c.started,
		ExecutionsSucceeded: c.succeeded,
		ExecutionsFailed:    c.failed,
		ExecutionsCancelled: c.cancelled,
		LastActivity:        c.lastActivity,
	}
}

// Reset zeroes every counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.triggersSeen = 0
	c.enqueued = 0
	c.drops = make(map[DropReason]int64)
	c.started = 0
	c.succeeded = 0
	c.failed = 0
	c.cancelled = 0
	c.lastActivity = time.Time{}
}
