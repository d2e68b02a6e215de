package tui

import (
	"strings"

	"github.com/charmbracelet/glamour/v2"
)

const helpMarkdown = `# reload

Rebuilds and restarts your program whenever a watched source file changes.

| Key | Action |
|-----|--------|
| ` + "`r`" + ` | rebuild now |
| ` + "`?`" + ` | toggle this help |
| ` + "`q`" + ` / ` + "`ctrl+c`" + ` | stop the program and quit |
| ` + "`↑`" + ` ` + "`↓`" + ` ` + "`pgup`" + ` ` + "`pgdn`" + ` | scroll the log |

## States

- **starting**: launched, still inside the startup window
- **running**: survived the startup window
- **stopping**: stop signal sent, waiting for exit
- **stopped**: exited; waits for the next change

A failed build leaves the running process untouched.
`

// renderHelp renders the help text for the given width.
func renderHelp(width int) string {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dracula"),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return helpMarkdown
	}
	rendered, err := r.Render(helpMarkdown)
	if err != nil {
		return helpMarkdown
	}
	return strings.TrimRight(rendered, "\n")
}
