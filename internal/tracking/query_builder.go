package tracking

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/tj/go-naturaldate"

	"phototheology.app/palace/internal/player"
)

// ErrInvalidFilter is wrapped by every QueryFilter.Validate failure
var ErrInvalidFilter = errors.New("invalid history filter")

// QueryFilter selects playback events for history queries
type QueryFilter struct {
	// Time window, in priority order: DatePreset, Since, From/To, Days
	DatePreset string     // see Presets
	Since      string     // natural language lower bound: "yesterday", "2 hours ago"
	From       *time.Time // inclusive
	To         *time.Time // inclusive
	Days       int        // last N days

	State     string // recorded state (playing, error, ...)
	ErrorKind string // failure kind (network, decode, ...)
	SessionID string

	Limit int // 0 = no limit
}

// presetRange computes [from, to) for a named window relative to now
type presetRange func(now time.Time) (from, to time.Time)

var presets = map[string]presetRange{
	"today": func(now time.Time) (time.Time, time.Time) {
		return startOfDay(now), now
	},
	"yesterday": func(now time.Time) (time.Time, time.Time) {
		return startOfDay(now).AddDate(0, 0, -1), startOfDay(now)
	},
	"week": func(now time.Time) (time.Time, time.Time) {
		return startOfWeek(now), now
	},
	"last-week": func(now time.Time) (time.Time, time.Time) {
		return startOfWeek(now).AddDate(0, 0, -7), startOfWeek(now)
	},
	"month": func(now time.Time) (time.Time, time.Time) {
		return startOfMonth(now), now
	},
	"last-month": func(now time.Time) (time.Time, time.Time) {
		return startOfMonth(now).AddDate(0, -1, 0), startOfMonth(now)
	},
	"all": func(now time.Time) (time.Time, time.Time) {
		return time.Time{}, now
	},
}

// Presets lists the accepted DatePreset names
var Presets = []string{"today", "yesterday", "week", "last-week", "month", "last-month", "all"}

var (
	knownStates = []player.State{
		player.StateIdle, player.StateUnlocking, player.StateLoading,
		player.StatePlaying, player.StatePaused, player.StateError,
	}
	knownKinds = []player.ErrorKind{
		player.KindNetwork, player.KindDecode, player.KindNotUnlocked, player.KindAborted,
	}
)

// Validate rejects filters that could never match a recorded event
func (f QueryFilter) Validate() error {
	if f.DatePreset != "" {
		if _, ok := presets[f.DatePreset]; !ok {
			return fmt.Errorf("%w: unknown preset %q (want one of %s)", ErrInvalidFilter, f.DatePreset, strings.Join(Presets, ", "))
		}
	}
	if f.Since != "" {
		if _, err := ParseSince(f.Since, time.Now()); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
	}
	if f.State != "" && !slices.Contains(knownStates, player.State(f.State)) {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidFilter, f.State)
	}
	if f.ErrorKind != "" && !slices.Contains(knownKinds, player.ErrorKind(f.ErrorKind)) {
		return fmt.Errorf("%w: unknown failure kind %q", ErrInvalidFilter, f.ErrorKind)
	}
	if f.Days < 0 || f.Limit < 0 {
		return fmt.Errorf("%w: days and limit must not be negative", ErrInvalidFilter)
	}
	return nil
}

// Window resolves the time options against now. A zero from means unbounded.
// Unparseable presets or Since values fall back to an unbounded window.
func (f QueryFilter) Window(now time.Time) (from, to time.Time) {
	switch {
	case f.DatePreset != "":
		if r, ok := presets[f.DatePreset]; ok {
			return r(now)
		}
		slog.Warn("unknown date preset, ignoring time filter", "preset", f.DatePreset)
	case f.Since != "":
		if since, err := ParseSince(f.Since, now); err == nil {
			return since, now
		}
	case f.From != nil || f.To != nil:
		to = now
		if f.From != nil {
			from = *f.From
		}
		if f.To != nil {
			to = *f.To
		}
		return from, to
	case f.Days > 0:
		return now.AddDate(0, 0, -f.Days), now
	}
	return time.Time{}, now
}

func (f QueryFilter) timeBounded() bool {
	return f.DatePreset != "" || f.Since != "" || f.From != nil || f.To != nil || f.Days > 0
}

// where accumulates AND-ed SQL conditions with their arguments
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

// SQL renders " WHERE ..." or the empty string
func (w *where) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// conditions builds the WHERE conditions for f; content filters are
// optional so summaries can reuse the time window alone
func (f QueryFilter) conditions(now time.Time, withContent bool) *where {
	w := &where{}
	if f.timeBounded() {
		from, to := f.Window(now)
		if !from.IsZero() {
			w.add("timestamp >= ?", from.Unix())
		}
		w.add("timestamp <= ?", to.Unix())
	}
	if !withContent {
		return w
	}
	if f.State != "" {
		w.add("state = ?", f.State)
	}
	if f.ErrorKind != "" {
		w.add("error_kind = ?", f.ErrorKind)
	}
	if f.SessionID != "" {
		w.add("session_id = ?", f.SessionID)
	}
	slog.Debug("built history conditions", "clauses", len(w.clauses))
	return w
}

// ParseSince reads a natural language point in the past ("yesterday",
// "3 hours ago") relative to now
func ParseSince(expr string, now time.Time) (time.Time, error) {
	t, err := naturaldate.Parse(expr, now, naturaldate.WithDirection(naturaldate.Past))
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as a time: %w", expr, err)
	}
	return t, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns Monday 00:00 of t's week
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
