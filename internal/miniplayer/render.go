// Package miniplayer adapts the playback engine for display: it tracks
// engine events, renders a one-line status and guards playback attempts.
package miniplayer

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/fatih/color"

	"phototheology.app/palace/internal/cache"
	"phototheology.app/palace/internal/player"
)

// Colour scheme per state
var (
	playingColour = color.New(color.FgGreen, color.Bold)
	pausedColour  = color.New(color.FgYellow)
	busyColour    = color.New(color.FgCyan)
	errorColour   = color.New(color.FgRed, color.Bold)
	idleColour    = color.New(color.Faint)
)

var stateIcons = map[player.State]string{
	player.StateIdle:      "■",
	player.StateUnlocking: "…",
	player.StateLoading:   "…",
	player.StatePlaying:   "▶",
	player.StatePaused:    "⏸",
	player.StateError:     "✖",
}

func stateColour(s player.State) *color.Color {
	switch s {
	case player.StatePlaying:
		return playingColour
	case player.StatePaused:
		return pausedColour
	case player.StateLoading, player.StateUnlocking:
		return busyColour
	case player.StateError:
		return errorColour
	default:
		return idleColour
	}
}

// minTitle is the shortest a title is clipped to on narrow terminals
const minTitle = 12

// Format returns the single-line status for s
func Format(s player.Snapshot) string {
	return FormatWidth(s, 0)
}

// FormatWidth clips the track title so the line suits a terminal of the
// given width; width <= 0 means unlimited
func FormatWidth(s player.Snapshot, width int) string {
	var b strings.Builder
	b.WriteString(stateColour(s.State).Sprintf("%s %-9s", stateIcons[s.State], s.State))

	if title := trackTitle(s.URL); title != "" && s.State != player.StateIdle {
		if width > 0 {
			title = clip(title, max(minTitle, width/3))
		}
		fmt.Fprintf(&b, " %s", title)
	}
	if s.Duration > 0 {
		fmt.Fprintf(&b, "  %s / %s", clock(s.Position), clock(s.Duration))
	}
	fmt.Fprintf(&b, "  vol %d%%", int(s.Volume*100+0.5))
	if s.PlaybackRate != 1 {
		fmt.Fprintf(&b, "  %gx", s.PlaybackRate)
	}
	if s.RequiresUnlock && !s.Unlocked {
		b.WriteString(pausedColour.Sprint("  [locked]"))
	}
	return b.String()
}

// Render writes the status line for s followed by a newline
func Render(w io.Writer, s player.Snapshot) error {
	_, err := fmt.Fprintln(w, Format(s))
	return err
}

// Redraw overwrites the current terminal line with the status for s
func Redraw(w io.Writer, s player.Snapshot, width int) error {
	_, err := fmt.Fprint(w, "\r\x1b[K"+FormatWidth(s, width))
	return err
}

// clip shortens s to n runes, marking the cut with an ellipsis
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d", m, sec)
}

func trackTitle(url string) string {
	switch {
	case url == "":
		return ""
	case strings.HasPrefix(url, cache.BlobScheme):
		return "(cached)"
	case strings.HasPrefix(url, "data:"):
		return "(inline)"
	default:
		return path.Base(strings.SplitN(url, "?", 2)[0])
	}
}
