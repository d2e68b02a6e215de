package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"github.com/billie-coop/reload/internal/csync"
	"github.com/billie-coop/reload/internal/events"
	"github.com/billie-coop/reload/internal/process"
	"github.com/billie-coop/reload/internal/supervisor"
)

// maxLines bounds the log tail kept for the viewport.
const maxLines = 1000

// Controller is the part of the supervisor the dashboard drives.
type Controller interface {
	Trigger()
	Status() supervisor.Status
}

// tickMsg refreshes uptime once a second.
type tickMsg time.Time

// brokerClosedMsg is sent when the event subscription ends.
type brokerClosedMsg struct{}

// Model is the dashboard.
type Model struct {
	width  int
	height int

	ctrl     Controller
	broker   *events.Broker
	eventSub <-chan events.Event

	viewport  viewport.Model
	spinner   spinner.Model
	statusBar *statusBar

	lines    *csync.Ring[string]
	status   supervisor.Status
	showHelp bool
	helpText string
	stopped  bool
}

// New creates a dashboard bound to ctrl, listening on broker.
func New(ctrl Controller, broker *events.Broker) *Model {
	return &Model{
		ctrl:      ctrl,
		broker:    broker,
		eventSub:  broker.Subscribe(),
		viewport:  viewport.New(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		statusBar: newStatusBar("r rebuild · ? help · q quit"),
		lines:     csync.NewRing[string](maxLines),
		status:    ctrl.Status(),
	}
}

// Init starts listening for events.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.listenForEvents(), m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.broker.Unsubscribe(m.eventSub)
			return m, tea.Quit
		case "r":
			m.ctrl.Trigger()
			return m, m.statusBar.show("rebuild requested", Info)
		case "?":
			m.showHelp = !m.showHelp
			m.refreshContent()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case events.Event:
		cmds = append(cmds, m.handleEvent(msg), m.listenForEvents())

	case brokerClosedMsg:
		m.stopped = true

	case tickMsg:
		m.status = m.ctrl.Status()
		cmds = append(cmds, tick())

	case clearMessageMsg:
		m.statusBar.update(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the dashboard.
func (m *Model) View() tea.View {
	if m.width == 0 {
		return tea.NewView("starting...")
	}
	rule := ruleStyle.Render(strings.Repeat("─", m.width))
	s := m.header() + "\n" + rule + "\n" + m.viewport.View() + "\n" + m.statusBar.view()
	return tea.NewView(s)
}

func (m *Model) resize() {
	// header, rule and status bar
	height := m.height - 3
	if height < 1 {
		height = 1
	}
	m.viewport = viewport.New(
		viewport.WithWidth(m.width),
		viewport.WithHeight(height),
	)
	m.statusBar.width = m.width
	m.helpText = renderHelp(m.width)
	m.refreshContent()
}

func (m *Model) refreshContent() {
	if m.showHelp {
		m.viewport.SetContent(m.helpText)
		m.viewport.GotoTop()
		return
	}
	follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	m.viewport.SetContent(strings.Join(m.lines.ToSlice(), "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) appendLine(line string) {
	m.lines.Append(line)
	if !m.showHelp {
		m.refreshContent()
	}
}

// header renders the one-line summary above the log.
func (m *Model) header() string {
	st := m.status
	parts := []string{titleStyle.Render("reload"), m.stateBadge(st)}

	if st.PID != 0 {
		parts = append(parts, labelStyle.Render("pid ")+fmt.Sprint(st.PID))
	}
	if st.State == process.Running || st.State == process.Starting {
		up := time.Since(st.StartedAt).Round(time.Second)
		parts = append(parts, labelStyle.Render("up ")+up.String())
	}
	parts = append(parts, labelStyle.Render("builds ")+fmt.Sprint(st.Builds))

	if st.Building {
		parts = append(parts, m.spinner.View()+" building")
	} else if b := st.LastBuild; b != nil {
		d := b.Duration.Round(time.Millisecond)
		if b.OK() {
			parts = append(parts, okStyle.Render("last build ok")+labelStyle.Render(" "+d.String()))
		} else {
			parts = append(parts, errStyle.Render(fmt.Sprintf("last build failed (exit %d)", b.ExitCode)))
		}
	}
	if m.stopped {
		parts = append(parts, warnStyle.Render("supervisor stopped"))
	}

	return lipgloss.NewStyle().MaxWidth(m.width).Render(strings.Join(parts, "  "))
}

func (m *Model) stateBadge(st supervisor.Status) string {
	label := "● " + st.State.String()
	switch st.State {
	case process.Running:
		return okStyle.Render(label)
	case process.Starting, process.Stopping:
		return warnStyle.Render(label)
	case process.Stopped:
		if st.LastExit != 0 {
			return errStyle.Render(fmt.Sprintf("%s (exit %d)", label, st.LastExit))
		}
		return labelStyle.Render(label)
	}
	return labelStyle.Render(label)
}
