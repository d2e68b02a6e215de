// Package watcher provides file system monitoring with debouncing.
//
// # Overview
//
// This package watches a source tree for changes and tells the supervisor
// when to rebuild. Editors and tools touch many files at once, so changes
// are coalesced: a burst inside the debounce window triggers one rebuild.
//
// # Architecture
//
// The watcher consists of:
//   - FileWatcher: debouncing of reported changes into one callback
//   - Matcher: include/exclude globs relative to the watch root
//   - NotifySource: fsnotify-backed change detection (recursive)
//   - PollSource: snapshot polling, used when notifications fail or when
//     the tree sits on a mount that does not forward them
//
// # Usage
//
//	m, _ := watcher.NewMatcher([]string{"**/*.go"}, []string{"tmp/**"})
//	fw := watcher.NewWatcher(time.Second, func(paths []string) {
//	    requestRebuild(paths)
//	})
//	defer fw.Stop()
//
//	err := watcher.Watch(ctx, root, m, fw, watcher.Options{})
//
// Watch blocks until ctx ends. It only returns an error when polling, the
// last resort, cannot walk the root.
package watcher
