package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
)

// ComponentKey is the attribute key the text handler renders as a tag.
const ComponentKey = "component"

// StreamKey marks records relayed from a child's stdout or stderr.
const StreamKey = "stream"

const tagWidth = 5

var tagStyles = map[string]lipgloss.Style{
	"main":  lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
	"watch": lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	"build": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	"run":   lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
}

var (
	defaultTagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	debugStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	attrStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// TextHandler is a slog.Handler writing one line per record:
//
//	[15:04:05] build | WARN message key=value
//
// The timestamp is optional and INFO carries no level label.
type TextHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	showTime  bool
	color     bool
	component string
	attrs     []slog.Attr
	group     string
}

// NewTextHandler creates a text handler writing to w.
func NewTextHandler(w io.Writer, level slog.Leveler, showTime, color bool) *TextHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &TextHandler{
		mu:       &sync.Mutex{},
		w:        w,
		level:    level,
		showTime: showTime,
		color:    color,
	}
}

func (h *TextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *TextHandler) Handle(_ context.Context, r slog.Record) error {
	component := h.component
	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, h.formatAttr(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		switch {
		case a.Equal(slog.Attr{}):
		case h.group == "" && a.Key == ComponentKey:
			component = a.Value.String()
		case h.group == "" && a.Key == StreamKey:
			// relayed lines stay verbatim
		default:
			if h.group != "" {
				a.Key = h.group + "." + a.Key
			}
			attrs = append(attrs, h.formatAttr(a))
		}
		return true
	})

	var b strings.Builder
	if h.showTime && !r.Time.IsZero() {
		b.WriteString(h.paint(attrStyle, "["+r.Time.Format(time.TimeOnly)+"]"))
		b.WriteByte(' ')
	}
	b.WriteString(h.tag(component))
	b.WriteString(" | ")
	if label := h.levelLabel(r.Level); label != "" {
		b.WriteString(label)
		b.WriteByte(' ')
	}
	b.WriteString(r.Message)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if h.group == "" && a.Key == ComponentKey {
			h2.component = a.Value.String()
			continue
		}
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group != "" {
		h2.group = h.group + "." + name
	} else {
		h2.group = name
	}
	return &h2
}

func (h *TextHandler) tag(component string) string {
	if component == "" {
		component = "main"
	}
	padded := fmt.Sprintf("%-*s", tagWidth, component)
	style, ok := tagStyles[component]
	if !ok {
		style = defaultTagStyle
	}
	return h.paint(style, padded)
}

func (h *TextHandler) levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.paint(errorStyle, "ERROR")
	case level >= slog.LevelWarn:
		return h.paint(warnStyle, "WARN")
	case level < slog.LevelInfo:
		return h.paint(debugStyle, "DEBUG")
	}
	return ""
}

func (h *TextHandler) formatAttr(a slog.Attr) string {
	key := a.Key
	a.Value = a.Value.Resolve()
	var val string
	if a.Value.Kind() == slog.KindGroup {
		parts := make([]string, 0, len(a.Value.Group()))
		for _, ga := range a.Value.Group() {
			parts = append(parts, ga.Key+"="+quote(ga.Value.String()))
		}
		val = "{" + strings.Join(parts, " ") + "}"
	} else {
		val = quote(a.Value.String())
	}
	return h.paint(attrStyle, key+"=") + val
}

func (h *TextHandler) paint(style lipgloss.Style, s string) string {
	if !h.color {
		return s
	}
	return style.Render(s)
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
