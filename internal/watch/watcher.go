// Package watch turns filesystem notifications into trigger events. It wraps
// fsnotify with recursive directory registration and maps raw operations to
// the trigger kinds hooks subscribe to.
package watch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	hookerrors "github.com/hookline/hookline/pkg/errors"
	"github.com/hookline/hookline/pkg/types"
)

// DefaultEventBuffer is the capacity of the outgoing event channel. Bursts
// beyond it are dropped rather than blocking the notification thread.
const DefaultEventBuffer = 256

// skipDirs are directory names never registered for watching.
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	".idea":        {},
	".vscode":      {},
}

// Event is one observed filesystem change, already translated to the trigger
// vocabulary. Open events never originate here; editors deliver those through
// the manual trigger API.
type Event struct {
	Path string
	Kind types.TriggerKind
	Time time.Time
}

// Watcher observes one or more workspace roots and publishes trigger events.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan Event
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher and starts its event loop. Callers must Close it.
func New(logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, hookerrors.Wrap(err, hookerrors.CodeWatchError, "failed to create filesystem watcher")
	}

	w := &Watcher{
		fsw:    fsw,
		events: make(chan Event, DefaultEventBuffer),
		logger: logger,
		done:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// AddRoot registers a directory tree for watching. Every existing
// subdirectory is added; directories created later are picked up by the
// event loop.
func (w *Watcher) AddRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return hookerrors.Wrap(err, hookerrors.CodeWatchError, "watch root is not accessible")
	}
	if !info.IsDir() {
		return hookerrors.New(hookerrors.CodeWatchError, "watch root must be a directory")
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		if shouldSkipDir(d.Name()) && path != root {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", addErr)
		}
		return nil
	})
}

// Events returns the channel trigger events are published on. The channel is
// closed when the watcher is closed.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the event loop and releases the underlying watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(fsEvent)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Error("filesystem watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) handle(fsEvent fsnotify.Event) {
	// New directories must be registered so events inside them are seen.
	if fsEvent.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			if !shouldSkipDir(filepath.Base(fsEvent.Name)) {
				if err := w.fsw.Add(fsEvent.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "path", fsEvent.Name, "error", err)
				}
			}
			return
		}
	}

	kind, ok := translateOp(fsEvent.Op)
	if !ok {
		return
	}

	event := Event{
		Path: filepath.ToSlash(fsEvent.Name),
		Kind: kind,
		Time: time.Now(),
	}

	select {
	case w.events <- event:
	default:
		w.logger.Warn("event buffer full, dropping trigger", "path", event.Path, "kind", string(event.Kind))
	}
}

// translateOp maps a filesystem operation to a trigger kind. Writes surface
// as on-save; the engine widens them to on-change subscribers. Chmod-only
// operations carry no content change and are ignored.
func translateOp(op fsnotify.Op) (types.TriggerKind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return types.TriggerOnCreate, true
	case op.Has(fsnotify.Write):
		return types.TriggerOnSave, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return types.TriggerOnDelete, true
	default:
		return "", false
	}
}

func shouldSkipDir(name string) bool {
	if _, ok := skipDirs[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
