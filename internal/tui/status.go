package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
)

// MessageType is the severity of a status bar message.
type MessageType int

const (
	Info MessageType = iota
	Success
	Warning
	Error
)

type statusMessage struct {
	content   string
	kind      MessageType
	timestamp time.Time
}

// clearMessageMsg clears a status message once it has been shown long
// enough.
type clearMessageMsg struct {
	timestamp time.Time
}

// statusBar shows a transient message on the left and key hints on the
// right.
type statusBar struct {
	message    *statusMessage
	width      int
	hints      string
	clearAfter time.Duration
}

func newStatusBar(hints string) *statusBar {
	return &statusBar{
		hints:      hints,
		clearAfter: 5 * time.Second,
	}
}

// show sets the message and schedules its removal.
func (c *statusBar) show(content string, kind MessageType) tea.Cmd {
	msg := &statusMessage{content: content, kind: kind, timestamp: time.Now()}
	c.message = msg
	return tea.Tick(c.clearAfter, func(time.Time) tea.Msg {
		return clearMessageMsg{timestamp: msg.timestamp}
	})
}

func (c *statusBar) update(msg clearMessageMsg) {
	// Only clear if this is for the current message
	if c.message != nil && msg.timestamp.Equal(c.message.timestamp) {
		c.message = nil
	}
}

func (c *statusBar) view() string {
	if c.width == 0 {
		return ""
	}

	text, style := c.messageParts()
	available := c.width - 2
	text = truncate(text, available-lipgloss.Width(c.hints)-1)
	gap := available - lipgloss.Width(text) - lipgloss.Width(c.hints)
	if gap < 1 {
		gap = 1
	}
	line := style.Render(text) + strings.Repeat(" ", gap) + labelStyle.Render(c.hints)
	return statusBarStyle.Width(c.width).Render(line)
}

func (c *statusBar) messageParts() (string, lipgloss.Style) {
	if c.message == nil {
		return "", lipgloss.NewStyle()
	}
	switch c.message.kind {
	case Success:
		return "✓ " + c.message.content, okStyle
	case Warning:
		return "! " + c.message.content, warnStyle
	case Error:
		return "✗ " + c.message.content, errStyle
	default:
		return c.message.content, lipgloss.NewStyle()
	}
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
