package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// TerminalDetector inspects file descriptors for interactive output
type TerminalDetector interface {
	IsTerminal(fd int) bool
	// Width returns the column count, or 0 when unknown
	Width(fd int) int
}

// DefaultTerminalDetector uses golang.org/x/term
type DefaultTerminalDetector struct{}

func (d *DefaultTerminalDetector) IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

func (d *DefaultTerminalDetector) Width(fd int) int {
	cols, _, err := term.GetSize(fd)
	if err != nil {
		slog.Debug("terminal size unavailable", "fd", fd, "error", err)
		return 0
	}
	return cols
}

type fdWriter interface {
	Fd() uintptr
}

// display describes how status lines can be drawn on a writer
type display struct {
	interactive bool
	width       int
}

// displayFor decides whether w can take in-place redraws of the
// mini-player line. Buffers, pipes and TERM=dumb cannot.
func (c *CLI) displayFor(w io.Writer) display {
	f, ok := w.(fdWriter)
	if !ok || os.Getenv("TERM") == "dumb" {
		return display{}
	}
	fd := int(f.Fd())
	if !c.terminalDetector.IsTerminal(fd) {
		return display{}
	}
	return display{interactive: true, width: c.terminalDetector.Width(fd)}
}
