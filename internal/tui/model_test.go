package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"

	"github.com/billie-coop/reload/internal/events"
	"github.com/billie-coop/reload/internal/process"
	"github.com/billie-coop/reload/internal/supervisor"
)

type fakeController struct {
	triggers int
	status   supervisor.Status
}

func (f *fakeController) Trigger()                  { f.triggers++ }
func (f *fakeController) Status() supervisor.Status { return f.status }

func newTestModel(t *testing.T) (*Model, *fakeController) {
	t.Helper()
	ctrl := &fakeController{status: supervisor.Status{State: process.NotStarted}}
	m := New(ctrl, events.NewBroker())
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, ctrl
}

func TestModel_LogLines(t *testing.T) {
	m, _ := newTestModel(t)

	for _, line := range []string{"build | building", "run   | listening on :8080"} {
		m.handleEvent(events.Event{Type: events.LogLineEvent, Payload: events.LogLinePayload{Line: line}})
	}
	got := m.lines.ToSlice()
	if len(got) != 2 || got[1] != "run   | listening on :8080" {
		t.Errorf("lines = %q", got)
	}
	if !strings.Contains(m.viewport.View(), "listening on :8080") {
		t.Errorf("viewport does not show the latest line:\n%s", m.viewport.View())
	}
}

func TestModel_Header(t *testing.T) {
	m, ctrl := newTestModel(t)

	ctrl.status = supervisor.Status{
		State:     process.Running,
		PID:       4242,
		StartedAt: time.Now().Add(-time.Minute),
		Builds:    3,
		LastBuild: &supervisor.BuildResult{Duration: 1200 * time.Millisecond},
	}
	m.handleEvent(events.Event{Type: events.ProcessRunningEvent, Payload: events.ProcessPayload{}})

	header := m.header()
	for _, want := range []string{"running", "4242", "builds", "3", "last build ok"} {
		if !strings.Contains(header, want) {
			t.Errorf("header missing %q: %s", want, header)
		}
	}

	ctrl.status.LastBuild = &supervisor.BuildResult{ExitCode: 2, Err: &supervisor.BuildError{ExitCode: 2}}
	m.handleEvent(events.Event{Type: events.BuildFailedEvent, Payload: events.BuildPayload{Err: "build failed"}})
	if header := m.header(); !strings.Contains(header, "exit 2") {
		t.Errorf("header does not show the failed build: %s", header)
	}
}

func TestModel_Keys(t *testing.T) {
	m, ctrl := newTestModel(t)

	m.Update(tea.KeyPressMsg{Code: 'r', Text: "r"})
	if ctrl.triggers != 1 {
		t.Errorf("triggers = %d, want 1", ctrl.triggers)
	}

	m.Update(tea.KeyPressMsg{Code: '?', Text: "?"})
	if !m.showHelp {
		t.Fatal("help not shown after ?")
	}
	m.Update(tea.KeyPressMsg{Code: '?', Text: "?"})
	if m.showHelp {
		t.Fatal("help still shown after second ?")
	}

	_, cmd := m.Update(tea.KeyPressMsg{Code: 'q', Text: "q"})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestModel_BrokerClosed(t *testing.T) {
	m, _ := newTestModel(t)
	m.broker.Clear()

	msg := m.listenForEvents()()
	if _, ok := msg.(brokerClosedMsg); !ok {
		t.Fatalf("msg = %T, want brokerClosedMsg", msg)
	}
	m.Update(msg)
	if !strings.Contains(m.header(), "supervisor stopped") {
		t.Error("header does not show the stopped supervisor")
	}
}

func TestStatusBar(t *testing.T) {
	bar := newStatusBar("q quit")
	bar.width = 40

	bar.show("a very long message that will not fit in forty columns", Error)
	if v := bar.view(); !strings.Contains(v, "...") || !strings.Contains(v, "q quit") {
		t.Errorf("view = %q", v)
	}

	stale := clearMessageMsg{timestamp: bar.message.timestamp.Add(-time.Second)}
	bar.update(stale)
	if bar.message == nil {
		t.Fatal("stale clear removed the current message")
	}
	bar.update(clearMessageMsg{timestamp: bar.message.timestamp})
	if bar.message != nil {
		t.Error("message not cleared")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 2, "he"},
		{"hello", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
