package tui

import (
	tea "github.com/charmbracelet/bubbletea/v2"

	"github.com/billie-coop/reload/internal/events"
)

// listenForEvents waits for the next broker event.
func (m *Model) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.eventSub
		if !ok {
			return brokerClosedMsg{}
		}
		return event
	}
}

// handleEvent folds a supervisor event into the dashboard.
func (m *Model) handleEvent(event events.Event) tea.Cmd {
	m.status = m.ctrl.Status()

	switch event.Type {
	case events.LogLineEvent:
		if p, ok := event.Payload.(events.LogLinePayload); ok {
			m.appendLine(p.Line)
		}

	case events.BuildStartedEvent:
		return m.statusBar.show("building", Info)

	case events.BuildSucceededEvent:
		return m.statusBar.show("build succeeded", Success)

	case events.BuildFailedEvent:
		if p, ok := event.Payload.(events.BuildPayload); ok {
			return m.statusBar.show(p.Err, Error)
		}

	case events.LaunchFailedEvent:
		if p, ok := event.Payload.(events.ProcessPayload); ok {
			return m.statusBar.show(p.Err, Error)
		}

	case events.ProcessRunningEvent:
		return m.statusBar.show("running", Success)

	case events.SupervisorStoppedEvent:
		m.stopped = true
	}
	return nil
}
