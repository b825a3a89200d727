package tracking

import (
	"database/sql"
	"fmt"
	"time"
)

// PlaybackEvent is one recorded state change
type PlaybackEvent struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	SessionID     string    `json:"session_id"`
	URL           string    `json:"url"`
	State         string    `json:"state"`
	PreviousState string    `json:"previous_state"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// Summary aggregates history over a filter
type Summary struct {
	Started  int            `json:"started"`
	Failures map[string]int `json:"failures"`
	Sessions int            `json:"sessions"`
}

// Query returns matching events, newest first
func Query(db *sql.DB, filter QueryFilter) ([]PlaybackEvent, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	w := filter.conditions(time.Now(), true)
	query := `
		SELECT id, timestamp, session_id, url, state, previous_state, error_kind, error_message
		FROM playback_events` + w.SQL() + " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.Query(query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playback events: %w", err)
	}
	defer rows.Close()

	var events []PlaybackEvent
	for rows.Next() {
		var ev PlaybackEvent
		var ts int64
		var kind, message sql.NullString
		if err := rows.Scan(&ev.ID, &ts, &ev.SessionID, &ev.URL, &ev.State, &ev.PreviousState, &kind, &message); err != nil {
			return nil, fmt.Errorf("failed to scan playback event row: %w", err)
		}
		ev.Timestamp = time.Unix(ts, 0)
		ev.ErrorKind = kind.String
		ev.ErrorMessage = message.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating playback event rows: %w", err)
	}

	return events, nil
}

// Summarize counts started tracks and failures by kind
func Summarize(db *sql.DB, filter QueryFilter) (*Summary, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	// state and error filters would hide the rows being counted
	w := filter.conditions(time.Now(), false)
	if filter.SessionID != "" {
		w.add("session_id = ?", filter.SessionID)
	}

	summary := &Summary{Failures: make(map[string]int)}
	err := db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN state = 'playing' AND previous_state = 'loading' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT session_id)
		FROM playback_events`+w.SQL(), w.args...).Scan(&summary.Started, &summary.Sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize playback events: %w", err)
	}

	w.clauses = append(w.clauses, "error_kind IS NOT NULL")
	rows, err := db.Query(`
		SELECT error_kind, COUNT(*)
		FROM playback_events`+w.SQL()+`
		GROUP BY error_kind`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan failure row: %w", err)
		}
		summary.Failures[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure rows: %w", err)
	}

	return summary, nil
}

// Prune deletes events recorded before cutoff and reports how many went
func Prune(db *sql.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}
	res, err := db.Exec("DELETE FROM playback_events WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune playback events: %w", err)
	}
	return res.RowsAffected()
}
