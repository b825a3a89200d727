package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"phototheology.app/palace/internal/tracking"
)

// ErrHistoryDisabled is returned when history is queried with tracking off
var ErrHistoryDisabled = errors.New("playback history is disabled (tracking.enabled is false)")

func newHistoryCommand() *cobra.Command {
	var (
		filter  tracking.QueryFilter
		summary bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded playback history",
		Long: `Show playback state changes recorded by earlier palace runs.

Time ranges accept a preset (today, yesterday, week, last-week, month,
last-month, all), a natural language --since ("yesterday", "3 hours ago")
or --days.

Examples:
  palace history                       # Last 7 days, newest first
  palace history --since "2 hours ago"
  palace history --preset today --state error
  palace history --summary --days 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := filter.Validate(); err != nil {
				return err
			}
			cli := cliFromContext(cmd.Context())
			cfg, err := loadAndValidateConfig(cmd, cli)
			if err != nil {
				return err
			}
			db, err := cli.openTracking(cfg)
			if err != nil {
				return err
			}
			if db == nil {
				return ErrHistoryDisabled
			}
			defer db.Close()

			if summary {
				return runHistorySummary(cmd.OutOrStdout(), db, filter, jsonOut)
			}
			return runHistoryList(cmd.OutOrStdout(), db, filter, jsonOut)
		},
	}

	cmd.Flags().StringVar(&filter.Since, "since", "", "Natural language start (\"yesterday\", \"2 hours ago\")")
	cmd.Flags().StringVar(&filter.DatePreset, "preset", "", "Date preset (today, yesterday, week, last-week, month, last-month, all)")
	cmd.Flags().IntVar(&filter.Days, "days", 7, "Number of days to include (0 = all time)")
	cmd.Flags().StringVar(&filter.State, "state", "", "Only this state (loading, playing, paused, error, idle)")
	cmd.Flags().StringVar(&filter.ErrorKind, "kind", "", "Only this failure kind (network, decode, not-unlocked, aborted)")
	cmd.Flags().StringVar(&filter.SessionID, "session", "", "Only this session")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum number of events to show (0 = no limit)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show totals instead of individual events")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func runHistoryList(w io.Writer, db *sql.DB, filter tracking.QueryFilter, jsonOut bool) error {
	events, err := tracking.Query(db, filter)
	if err != nil {
		return err
	}
	if jsonOut {
		if events == nil {
			events = []tracking.PlaybackEvent{}
		}
		return writeJSON(w, events)
	}

	if len(events) == 0 {
		fmt.Fprintf(w, "No playback events found (%s)\n", describeRange(filter))
		return nil
	}

	fmt.Fprintf(w, "Playback history (%s):\n\n", describeRange(filter))
	for _, ev := range events {
		fmt.Fprintf(w, "%s  %-8s <- %-9s %s",
			ev.Timestamp.Format("2006-01-02 15:04:05"), ev.State, ev.PreviousState, ev.URL)
		if ev.ErrorKind != "" {
			fmt.Fprintf(w, "  [%s: %s]", ev.ErrorKind, ev.ErrorMessage)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func runHistorySummary(w io.Writer, db *sql.DB, filter tracking.QueryFilter, jsonOut bool) error {
	s, err := tracking.Summarize(db, filter)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(w, s)
	}

	fmt.Fprintf(w, "Playback summary (%s):\n", describeRange(filter))
	fmt.Fprintf(w, "  Tracks started: %d\n", s.Started)
	fmt.Fprintf(w, "  Sessions:       %d\n", s.Sessions)
	if len(s.Failures) == 0 {
		fmt.Fprintln(w, "  Failures:       none")
		return nil
	}

	kinds := make([]string, 0, len(s.Failures))
	for kind := range s.Failures {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	fmt.Fprintln(w, "  Failures:")
	for _, kind := range kinds {
		fmt.Fprintf(w, "    %-14s %d\n", kind, s.Failures[kind])
	}
	return nil
}

// describeRange names the time window a filter selects, in the same
// priority order the filter applies them
func describeRange(f tracking.QueryFilter) string {
	switch {
	case f.DatePreset != "":
		return f.DatePreset
	case f.Since != "":
		return "since " + f.Since
	case f.Days > 0:
		return fmt.Sprintf("last %d days", f.Days)
	default:
		return "all time"
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
