// Package cooldown rate-limits repeated hook runs on the same file.
//
// The tracker is a quiescence window, not a correctness mechanism: it exists
// to absorb rapid-fire duplicate events from an editor, not to prevent
// legitimate sequential runs.
package cooldown

import (
	"sync"
	"time"
)

// DefaultWindow is the quiescence window applied when none is configured.
const DefaultWindow = 5 * time.Second

type key struct {
	hookID string
	path   string
}

// Tracker records the last run time per (hook, file) pair and answers
// whether a new run may start now.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	last   map[key]time.Time

	// now allows tests to control time.
	now func() time.Time
}

// New creates a Tracker with the given quiescence window. A non-positive
// window falls back to DefaultWindow.
func New(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window: window,
		last:   make(map[key]time.Time),
		now:    time.Now,
	}
}

// CanRun reports whether the hook may run for the file now. A pair with no
// recorded run always may.
func (t *Tracker) CanRun(hookID, filePath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.last[key{hookID, filePath}]
	if !ok {
		return true
	}

	return t.now().Sub(last) >= t.window
}

// Record stores the current time as the last run for the pair.
func (t *Tracker) Record(hookID, filePath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last[key{hookID, filePath}] = t.now()
}

// Reset clears cooldown state for a hook. With file paths given it clears
// just those pairs; without, it clears every pair for the hook id. Used to
// deliberately bypass the window after a forced re-run request.
func (t *Tracker) Reset(hookID string, filePaths ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(filePaths) > 0 {
		for _, p := range filePaths {
			delete(t.last, key{hookID, p})
		}
		return
	}

	for k := range t.last {
		if k.hookID == hookID {
			delete(t.last, k)
		}
	}
}

// Clear drops all recorded state. Called on engine disposal.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = make(map[key]time.Time)
}

// Window returns the configured quiescence window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// SetNowFunc overrides the clock. Tests only.
func (t *Tracker) SetNowFunc(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.now = now
}
