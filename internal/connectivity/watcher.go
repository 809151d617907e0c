package connectivity

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher is a Monitor driven by a network state file, typically
// /sys/class/net/<iface>/operstate on Linux. It uses fsnotify for event
// monitoring and re-reads the file on every change, treating content
// "up" as online and anything else (including a missing file) as
// offline.
//
// The Manual embedded underneath deduplicates repeated states, so
// subscribers only see real transitions.
type Watcher struct {
	*Manual

	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for the given state file. The watcher
// must be started with Start() before it will track changes; until then
// it reports the state read at construction time.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		Manual:  NewManual(readState(path)),
		path:    path,
		watcher: fsw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the state file's directory for changes.
// Watching the directory rather than the file survives the
// remove-and-recreate write pattern some tools use.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	// Re-read after the watch is established so a flip between
	// construction and Start is not missed.
	w.Set(readState(w.path))

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()
	return nil
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.Set(readState(w.path))
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// A watch error leaves the last known state in place; the
			// engine falls back to failing fast on actual requests.
		}
	}
}

// readState reads the state file and reports whether it says "up".
func readState(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return string(bytes.TrimSpace(data)) == "up"
}
