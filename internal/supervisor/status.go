package supervisor

import (
	"time"

	"github.com/google/uuid"

	"github.com/billie-coop/reload/internal/process"
)

// BuildResult records one build attempt.
type BuildResult struct {
	ID       uuid.UUID
	Started  time.Time
	Duration time.Duration
	Changed  []string
	ExitCode int
	Err      error
}

// OK reports whether the build succeeded.
func (r BuildResult) OK() bool {
	return r.Err == nil
}

// Status is a point-in-time snapshot of the supervisor.
type Status struct {
	State     process.State
	PID       int
	StartedAt time.Time
	RunID     uuid.UUID
	Artifact  string
	Building  bool
	LastBuild *BuildResult
	Builds    int
	// LastExit is the exit code of the most recent process, once it has
	// stopped.
	LastExit int
}
