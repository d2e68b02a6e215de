package supervisor

import (
	"fmt"

	"github.com/billie-coop/reload/internal/config"
	"github.com/billie-coop/reload/internal/watcher"
)

// ConfigError reports an unusable configuration. It is fatal at startup.
type ConfigError = config.Error

// WatchError reports a failure of change detection. Notification failures
// fall back to polling; it is fatal only when polling fails too.
type WatchError = watcher.WatchError

// BuildError reports a build command that exited non-zero. The running
// process is left untouched.
type BuildError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %q exited with code %d", e.Command, e.ExitCode)
}

// LaunchError reports a process that could not be started or died inside
// its startup window.
type LaunchError struct {
	Command string
	Reason  string
	Err     error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch %q: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("launch %q: %s", e.Command, e.Reason)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
