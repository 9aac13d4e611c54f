// Package registry tracks live hook executions: cancellation handles per
// running hook (one for single/restart mode, any number for multiple mode),
// re-entrancy markers per (hook, file), and the generated-file marker set
// that suppresses self-triggering.
package registry

import (
	"sync"

	"github.com/google/uuid"

	hookerrors "github.com/hookline/hookline/pkg/errors"
)

// Handle is the cooperative cancellation authority for one in-flight hook
// execution. Cancelling never interrupts I/O; it closes the done channel and
// the running unit of work is expected to observe it at its next checkpoint.
type Handle struct {
	executionID string

	once sync.Once
	done chan struct{}
}

func newHandle() *Handle {
	return &Handle{
		executionID: uuid.NewString(),
		done:        make(chan struct{}),
	}
}

// ExecutionID identifies the run this handle belongs to.
func (h *Handle) ExecutionID() string {
	return h.executionID
}

// Cancel requests cancellation. Idempotent.
func (h *Handle) Cancel() {
	h.once.Do(func() { close(h.done) })
}

// Cancelled reports whether cancellation has been requested.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when cancellation is requested.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type processingKey struct {
	hookID string
	path   string
}

// Registry is the process-wide execution bookkeeping. All mutation goes
// through the dispatcher; external components only read.
type Registry struct {
	mu         sync.Mutex
	running    map[string][]*Handle
	processing map[processingKey]struct{}
	generated  map[string]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		running:    make(map[string][]*Handle),
		processing: make(map[processingKey]struct{}),
		generated:  make(map[string]struct{}),
	}
}

// Begin claims an execution slot for a hook and returns its cancellation
// handle. With concurrent false the hook holds at most one live slot: Begin
// fails with ErrAlreadyRunning while an uncancelled handle exists, and a
// cancelled predecessor that has not yet settled is dropped from tracking,
// so a restart can start the new run without waiting for the old one to
// observe its cancellation. With concurrent true there is no per-hook limit
// and every Begin claims a fresh slot.
func (r *Registry) Begin(hookID string, concurrent bool) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.running[hookID]
	if !concurrent {
		live := handles[:0]
		for _, prev := range handles {
			if !prev.Cancelled() {
				live = append(live, prev)
			}
		}
		if len(live) > 0 {
			r.running[hookID] = live
			return nil, hookerrors.Wrap(hookerrors.ErrAlreadyRunning, hookerrors.CodeAlreadyRunning, "execution slot occupied for hook "+hookID)
		}
		handles = live
	}

	h := newHandle()
	r.running[hookID] = append(handles, h)

	return h, nil
}

// Cancel signals cancellation on every live handle of the hook. No-op when
// none exist.
func (r *Registry) Cancel(hookID string) {
	r.mu.Lock()
	handles := make([]*Handle, len(r.running[hookID]))
	copy(handles, r.running[hookID])
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// End releases the execution slot held by h. Must be called exactly once per
// successful Begin, on every exit path. Only h's own slot is released; when
// a restart has already dropped the superseded handle, its late End leaves
// the new run's slot untouched.
func (r *Registry) End(hookID string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.running[hookID]
	for i, current := range handles {
		if current == h {
			handles = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		delete(r.running, hookID)
	} else {
		r.running[hookID] = handles
	}
}

// IsRunning reports whether the hook holds at least one live execution slot.
func (r *Registry) IsRunning(hookID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.running[hookID]) > 0
}

// RunningCount returns the number of live executions across all hooks.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, handles := range r.running {
		total += len(handles)
	}
	return total
}

// MarkProcessing records that the hook has entered the critical execution
// path for the file. This is the innermost re-entrancy lock, independent of
// IsRunning, and holds across execution-mode boundaries.
func (r *Registry) MarkProcessing(hookID, filePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.processing[processingKey{hookID, filePath}] = struct{}{}
}

// IsProcessing reports whether the hook is inside the critical execution
// path for the file.
func (r *Registry) IsProcessing(hookID, filePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.processing[processingKey{hookID, filePath}]
	return ok
}

// UnmarkProcessing clears the re-entrancy marker for the pair.
func (r *Registry) UnmarkProcessing(hookID, filePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.processing, processingKey{hookID, filePath})
}

// MarkGenerated records that a hook just wrote filePath. The very next
// trigger event for that path is suppressed.
func (r *Registry) MarkGenerated(filePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generated[filePath] = struct{}{}
}

// ConsumeIfGenerated atomically checks and removes the generated-file marker
// for a path. Each marker suppresses exactly one subsequent event.
func (r *Registry) ConsumeIfGenerated(filePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.generated[filePath]; !ok {
		return false
	}

	delete(r.generated, filePath)
	return true
}

// CancelAll signals cancellation on every live handle. Part of disposal,
// before queues and cooldown state are cleared.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.running))
	for _, hs := range r.running {
		handles = append(handles, hs...)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Reset drops all processing markers and generated-file markers. Live
// handles survive; their owners still call End on their own exit paths.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.processing = make(map[processingKey]struct{})
	r.generated = make(map[string]struct{})
}
