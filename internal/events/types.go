package events

import "time"

// EventType identifies the type of event
type EventType string

const wildcard EventType = "*"

const (
	// Build events
	BuildStartedEvent   EventType = "build.started"
	BuildSucceededEvent EventType = "build.succeeded"
	BuildFailedEvent    EventType = "build.failed"

	// Process events
	ProcessStartedEvent EventType = "process.started"
	ProcessRunningEvent EventType = "process.running"
	ProcessStoppedEvent EventType = "process.stopped"
	LaunchFailedEvent   EventType = "process.launch_failed"

	// Watch events
	ChangesDetectedEvent EventType = "watch.changes"

	// Operator log
	LogLineEvent EventType = "log.line"

	// Supervisor lifecycle
	SupervisorStoppedEvent EventType = "supervisor.stopped"
)

// Event represents an event in the system
type Event struct {
	Type    EventType
	Time    time.Time
	Payload any
}

// Event payload types

type BuildPayload struct {
	ID       string
	Changed  []string
	Duration time.Duration
	ExitCode int
	Output   string
	Err      string
}

type ProcessPayload struct {
	RunID    string
	PID      int
	Artifact string
	State    string
	ExitCode int
	Err      string
}

type ChangesPayload struct {
	Paths []string
}

type LogLinePayload struct {
	Line string
}
