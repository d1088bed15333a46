package signals

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is emitted when the control flags change.
type Event struct {
	Signals Signals
	Error   error
}

// Watcher monitors the control directory so waiters can react to flag
// changes without polling tightly. Consumers should still poll at a
// coarse interval: file notification is a wake-up hint, not a
// guarantee.
type Watcher struct {
	source   *FileSource
	watcher  *fsnotify.Watcher
	events   chan Event
	debounce time.Duration

	mu      sync.Mutex
	stopped bool
}

// NewWatcher creates a watcher over the source's control directory.
func NewWatcher(source *FileSource) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		source:   source,
		watcher:  fsWatcher,
		events:   make(chan Event, 10),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Events returns the channel that receives flag change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching the control directory. The directory must
// exist before Start is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.source.Dir()); err != nil {
		return fmt.Errorf("failed to watch control directory %s: %w", w.source.Dir(), err)
	}

	go w.run(ctx)
	return nil
}

// Stop closes the watcher and cleans up resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.events)
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	// Debounce so a touch followed by an editor rename emits once.
	dirty := false
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".on") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				dirty = true
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.emit(Event{Error: err})

		case <-ticker.C:
			if dirty {
				dirty = false
				w.emit(Event{Signals: w.source.Read()})
			}
		}
	}
}

func (w *Watcher) emit(e Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- e:
	default:
		// A slow consumer misses intermediate readings, never the
		// ability to Read the current state directly.
	}
}
