// Package watch detects process-external edits to the storage locations and
// invalidates the task store's in-memory mirror, so API reads never serve
// stale data after a file is changed in a text editor or by a sync client.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces rapid change bursts (sync clients touch files
// repeatedly) into a single invalidation.
const debounceDelay = 250 * time.Millisecond

// Watcher monitors the tasks file's directory and the notes directory.
type Watcher struct {
	fsw      *fsnotify.Watcher
	callback func()

	mu    sync.Mutex
	timer *time.Timer
	paths []string
}

// New creates a Watcher invoking callback (debounced) on any relevant change.
func New(callback func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{fsw: fsw, callback: callback}, nil
}

// Rewatch replaces the watched set with the directories covering the given
// storage paths. Called at startup and whenever the storage config repoints.
func (w *Watcher) Rewatch(tasksFile, topicsDir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range w.paths {
		_ = w.fsw.Remove(p)
	}
	w.paths = nil

	for _, p := range []string{filepath.Dir(tasksFile), topicsDir} {
		if err := w.fsw.Add(p); err != nil {
			continue // a missing directory is re-added on the next Rewatch
		}
		w.paths = append(w.paths, p)
	}
	return nil
}

// Run blocks until ctx is canceled, dispatching debounced callbacks.
func (w *Watcher) Run(ctx context.Context, errFn func(error)) {
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.debounce()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errFn != nil {
				errFn(err)
			}
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.callback)
}
