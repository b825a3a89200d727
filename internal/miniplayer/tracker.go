package miniplayer

import (
	"log/slog"
	"sync"

	"phototheology.app/palace/internal/player"
)

// Tracker mirrors the engine into a Snapshot and publishes coalesced
// updates. A slow reader only ever sees the latest snapshot.
type Tracker struct {
	engine *player.Engine
	ids    []player.ListenerID

	mu      sync.Mutex
	snap    player.Snapshot
	lastErr *player.PlaybackError
	updates chan player.Snapshot
	closed  bool
}

// NewTracker subscribes to e's state and progress events
func NewTracker(e *player.Engine) *Tracker {
	t := &Tracker{
		engine:  e,
		snap:    e.Snapshot(),
		updates: make(chan player.Snapshot, 1),
	}
	t.ids = []player.ListenerID{
		e.On(player.EventStateChange, t.handle),
		e.On(player.EventProgress, t.handle),
	}
	slog.Debug("mini-player tracker attached", "state", t.snap.State)
	return t
}

func (t *Tracker) handle(ev player.Event) {
	snap := t.engine.Snapshot()
	if snap.URL != ev.URL {
		// the engine has moved on; report only what the event carries
		snap.Position, snap.Duration = 0, 0
	}
	snap.State = ev.State
	snap.URL = ev.URL
	if ev.Kind == player.EventProgress {
		snap.Position = ev.Position
		snap.Duration = ev.Duration
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.snap = snap
	if ev.Err != nil {
		t.lastErr = ev.Err
	} else if ev.State == player.StateLoading {
		t.lastErr = nil
	}

	// keep only the newest pending update
	select {
	case <-t.updates:
	default:
	}
	t.updates <- snap
}

// Updates delivers snapshots as the engine changes; closed by Close
func (t *Tracker) Updates() <-chan player.Snapshot {
	return t.updates
}

// Snapshot returns the latest tracked snapshot
func (t *Tracker) Snapshot() player.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// LastError returns the most recent playback failure, cleared when the
// next track starts loading
func (t *Tracker) LastError() *player.PlaybackError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Close unsubscribes from the engine and closes the updates channel
func (t *Tracker) Close() {
	for _, id := range t.ids {
		t.engine.Off(id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.updates)
	}
}
