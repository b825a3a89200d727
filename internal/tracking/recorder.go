package tracking

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"phototheology.app/palace/internal/player"
)

// maxURLLength bounds stored URLs; inline data URLs would otherwise store whole clips
const maxURLLength = 256

// Recorder writes engine state changes to the history database. After the
// first write failure it disables itself so playback never pays for tracking.
type Recorder struct {
	db        *sql.DB
	sessionID string

	mu       sync.Mutex
	disabled bool
	engine   *player.Engine
	listener player.ListenerID
}

// NewRecorder creates a recorder for sessionID; an empty id gets a random one
func NewRecorder(db *sql.DB, sessionID string) *Recorder {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Recorder{db: db, sessionID: sessionID}
}

// SessionID returns the session rows are written under
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Attach subscribes the recorder to e's state changes
func (r *Recorder) Attach(e *player.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine != nil {
		r.engine.Off(r.listener)
	}
	r.engine = e
	r.listener = e.On(player.EventStateChange, r.Record)
	slog.Debug("playback recorder attached", "session_id", r.sessionID)
}

// Detach stops recording
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine != nil {
		r.engine.Off(r.listener)
		r.engine = nil
	}
}

// Record stores one state change event; progress events are ignored
func (r *Recorder) Record(ev player.Event) {
	if ev.Kind != player.EventStateChange {
		return
	}

	r.mu.Lock()
	disabled := r.disabled
	r.mu.Unlock()
	if disabled {
		return
	}

	var kind, message sql.NullString
	if ev.Err != nil {
		kind = sql.NullString{String: string(ev.Err.Kind), Valid: true}
		if ev.Err.Err != nil {
			message = sql.NullString{String: ev.Err.Err.Error(), Valid: true}
		}
	}

	_, err := r.db.Exec(`
		INSERT INTO playback_events (timestamp, session_id, url, state, previous_state, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), r.sessionID, truncateURL(ev.URL), string(ev.State), string(ev.Previous), kind, message)
	if err != nil {
		slog.Warn("playback tracking failed, disabling", "error", err, "state", ev.State)
		r.mu.Lock()
		r.disabled = true
		r.mu.Unlock()
		return
	}

	slog.Debug("playback event recorded", "session_id", r.sessionID, "state", ev.State, "previous", ev.Previous)
}

func truncateURL(u string) string {
	if len(u) <= maxURLLength {
		return u
	}
	return u[:maxURLLength] + "..."
}
