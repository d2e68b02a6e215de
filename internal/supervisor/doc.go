// Package supervisor implements the reload control loop.
//
// A Supervisor watches the project sources, rebuilds when they change and
// swaps the running process for one started from the new build. Only the
// loop goroutine touches the current artifact and process handle; the
// watcher, the debounce timer and process waiters talk to it through
// channels.
//
// Swaps are strictly ordered: the new artifact is verified, the old process
// is stopped and reaped, and only then is the new one launched, so two
// generations never run at the same time.
//
// Build and launch failures are logged and published as events. They never
// stop the loop; the supervisor waits for the next change instead.
package supervisor
