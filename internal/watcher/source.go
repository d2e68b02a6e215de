package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchError reports a failure of the change-detection mechanism.
type WatchError struct {
	Op  string
	Err error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Op, e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}

// Source feeds filesystem changes into a FileWatcher until ctx ends.
type Source interface {
	Run(ctx context.Context) error
}

var (
	_ Source = (*NotifySource)(nil)
	_ Source = (*PollSource)(nil)
)

// Options selects and tunes the change source.
type Options struct {
	// Poll skips filesystem notifications altogether.
	Poll         bool
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Watch feeds changes under root into fw until ctx ends. It prefers
// filesystem notifications and falls back to polling when they fail. The
// returned error is non-nil only when polling fails too.
func Watch(ctx context.Context, root string, m *Matcher, fw *FileWatcher, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	if !opts.Poll {
		notify := &NotifySource{Root: root, Matcher: m, Sink: fw, Logger: logger}
		err := notify.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		logger.Warn("filesystem notifications failed, falling back to polling",
			"error", err, "interval", interval)
	}

	poll := &PollSource{Root: root, Matcher: m, Sink: fw, Interval: interval}
	if err := poll.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// NotifySource watches a directory tree with fsnotify. Directories created
// after startup are added as they appear.
type NotifySource struct {
	Root    string
	Matcher *Matcher
	Sink    *FileWatcher
	Logger  *slog.Logger
}

// Run blocks until ctx ends or the notification mechanism fails.
func (s *NotifySource) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return &WatchError{Op: "init", Err: err}
	}
	defer w.Close()

	if err := s.addTree(w, s.Root); err != nil {
		return &WatchError{Op: "add", Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return &WatchError{Op: "events", Err: errors.New("event stream closed")}
			}
			s.handle(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return &WatchError{Op: "events", Err: errors.New("error stream closed")}
			}
			return &WatchError{Op: "notify", Err: err}
		}
	}
}

func (s *NotifySource) handle(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	rel, ok := relPath(s.Root, ev.Name)
	if !ok {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if s.Matcher.SkipDir(rel) {
				return
			}
			if err := s.addTree(w, ev.Name); err != nil && s.Logger != nil {
				s.Logger.Warn("failed to watch new directory", "path", rel, "error", err)
			}
			// Files may have landed before the directory was added.
			var created []string
			_ = s.Matcher.walkFrom(s.Root, ev.Name, func(r string, _ fs.DirEntry) {
				created = append(created, r)
			})
			s.Sink.FilesChanged(created)
			return
		}
	}

	if s.Matcher.Match(rel) {
		s.Sink.FileChanged(rel)
	}
}

func (s *NotifySource) addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := relPath(s.Root, p); ok && s.Matcher.SkipDir(rel) {
			return fs.SkipDir
		}
		return w.Add(p)
	})
}

// PollSource detects changes by comparing periodic snapshots of file
// modification times and sizes.
type PollSource struct {
	Root     string
	Matcher  *Matcher
	Sink     *FileWatcher
	Interval time.Duration
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// Run blocks until ctx ends or the root can no longer be walked.
func (s *PollSource) Run(ctx context.Context) error {
	prev, err := s.snapshot()
	if err != nil {
		return &WatchError{Op: "poll", Err: err}
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			next, err := s.snapshot()
			if err != nil {
				return &WatchError{Op: "poll", Err: err}
			}
			s.Sink.FilesChanged(diffSnapshots(prev, next))
			prev = next
		}
	}
}

func (s *PollSource) snapshot() (map[string]fileStamp, error) {
	snap := make(map[string]fileStamp)
	err := s.Matcher.walk(s.Root, func(rel string, d fs.DirEntry) {
		info, err := d.Info()
		if err != nil {
			return
		}
		snap[rel] = fileStamp{modTime: info.ModTime(), size: info.Size()}
	})
	return snap, err
}

// diffSnapshots returns paths added, removed or modified between a and b.
func diffSnapshots(a, b map[string]fileStamp) []string {
	var changed []string
	for p, stamp := range b {
		old, ok := a[p]
		if !ok || !old.modTime.Equal(stamp.modTime) || old.size != stamp.size {
			changed = append(changed, p)
		}
	}
	for p := range a {
		if _, ok := b[p]; !ok {
			changed = append(changed, p)
		}
	}
	return changed
}

func relPath(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
