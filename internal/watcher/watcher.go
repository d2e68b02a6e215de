package watcher

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FileWatcher collects rapid file changes and fires a single callback once
// things settle.
//
// Every change restarts the debounce timer, so a burst of events inside the
// delay window produces exactly one onChange call, fired delay after the
// last event of the burst.
//
// Used by: NotifySource and PollSource (feed changes)
// Connects to: the supervisor (onChange requests a rebuild)
type FileWatcher struct {
	debounceDelay time.Duration

	// Debouncing state
	timer        *time.Timer
	timerMu      sync.Mutex
	pendingPaths map[string]struct{}

	// Callback when changes are ready
	onChange func([]string)

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a file watcher with the specified debounce delay.
// The onChange callback is called with changed paths after debouncing.
//
// Example:
//
//	fw := NewWatcher(time.Second, func(paths []string) {
//	    fmt.Printf("Files changed: %v\n", paths)
//	})
func NewWatcher(debounceDelay time.Duration, onChange func([]string)) *FileWatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &FileWatcher{
		debounceDelay: debounceDelay,
		pendingPaths:  make(map[string]struct{}),
		onChange:      onChange,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// FileChanged notifies the watcher of a file change.
// Multiple rapid calls are debounced into a single onChange callback.
func (w *FileWatcher) FileChanged(path string) {
	w.FilesChanged([]string{path})
}

// FilesChanged notifies the watcher of multiple file changes, as seen by a
// polling pass or a batch operation like git checkout.
func (w *FileWatcher) FilesChanged(paths []string) {
	if len(paths) == 0 || w.ctx.Err() != nil {
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	for _, path := range paths {
		w.pendingPaths[path] = struct{}{}
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDelay, w.processPending)
}

// Pending reports how many distinct paths are waiting for the timer.
func (w *FileWatcher) Pending() int {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	return len(w.pendingPaths)
}

// Stop shuts down the watcher. Pending changes are dropped.
func (w *FileWatcher) Stop() {
	w.cancel()

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pendingPaths = make(map[string]struct{})
	w.timerMu.Unlock()
}

// processPending is called after debounce delay.
// It triggers the onChange callback with accumulated paths.
func (w *FileWatcher) processPending() {
	w.timerMu.Lock()

	paths := make([]string, 0, len(w.pendingPaths))
	for path := range w.pendingPaths {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	w.pendingPaths = make(map[string]struct{})
	w.timer = nil

	w.timerMu.Unlock()

	// Trigger callback (outside lock)
	if len(paths) > 0 && w.onChange != nil && w.ctx.Err() == nil {
		w.onChange(paths)
	}
}
