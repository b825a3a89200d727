package tracking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phototheology.app/palace/internal/audio"
	"phototheology.app/palace/internal/audio/audiotest"
	"phototheology.app/palace/internal/output"
	"phototheology.app/palace/internal/player"
)

func TestRecorder_RecordsStateChanges(t *testing.T) {
	db := setupTestDB(t)
	e := player.New(output.NewNullOutput())
	defer e.Close()

	rec := NewRecorder(db, "session-1")
	rec.Attach(e)

	url := audio.DataURL("audio/wav", audiotest.WAV(time.Second, 8000))
	require.True(t, e.Play(context.Background(), url))
	e.Stop()
	assert.False(t, e.Play(context.Background(), audio.DataURL("audio/mpeg", []byte("garbage"))))
	e.Sync()

	events, err := Query(db, QueryFilter{})
	require.NoError(t, err)

	// newest first: the failed play, then the stopped one
	var states []string
	for i := len(events) - 1; i >= 0; i-- {
		states = append(states, events[i].State)
	}
	assert.Equal(t, []string{"loading", "playing", "idle", "loading", "error", "idle"}, states)

	for _, ev := range events {
		assert.Equal(t, "session-1", ev.SessionID)
		assert.LessOrEqual(t, len(ev.URL), maxURLLength+3, "inline urls are truncated")
	}

	failures, err := Query(db, QueryFilter{State: "error"})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "decode", failures[0].ErrorKind)
	assert.NotEmpty(t, failures[0].ErrorMessage)

	summary, err := Summarize(db, QueryFilter{Since: "1 hour ago"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Started)
	assert.Equal(t, 1, summary.Sessions)
	assert.Equal(t, map[string]int{"decode": 1}, summary.Failures)
}

func TestRecorder_Detach(t *testing.T) {
	db := setupTestDB(t)
	e := player.New(output.NewNullOutput())
	defer e.Close()

	rec := NewRecorder(db, "")
	assert.NotEmpty(t, rec.SessionID())
	rec.Attach(e)
	rec.Detach()

	e.Play(context.Background(), "")
	e.Sync()

	events, err := Query(db, QueryFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecorder_DisablesAfterFailure(t *testing.T) {
	db := setupTestDB(t)
	rec := NewRecorder(db, "s")
	require.NoError(t, db.Close())

	ev := player.Event{Kind: player.EventStateChange, State: player.StatePlaying, Previous: player.StateLoading}
	rec.Record(ev)
	assert.True(t, rec.disabled)

	// a disabled recorder never touches the database again
	rec.Record(ev)
}

func TestRecorder_IgnoresProgress(t *testing.T) {
	db := setupTestDB(t)
	rec := NewRecorder(db, "s")
	rec.Record(player.Event{Kind: player.EventProgress, State: player.StatePlaying, Position: time.Second})

	events, err := Query(db, QueryFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecorder_StoresErrorDetails(t *testing.T) {
	db := setupTestDB(t)
	rec := NewRecorder(db, "s")
	rec.Record(player.Event{
		Kind:     player.EventStateChange,
		State:    player.StateError,
		Previous: player.StateLoading,
		URL:      "https://cdn.example/" + strings.Repeat("a", 400),
		Err:      &player.PlaybackError{Kind: player.KindNetwork, Err: errors.New("status 502")},
	})

	events, err := Query(db, QueryFilter{ErrorKind: "network"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "status 502", events[0].ErrorMessage)
	assert.True(t, strings.HasSuffix(events[0].URL, "..."))
}

func TestQuery_Limit(t *testing.T) {
	db := setupTestDB(t)
	rec := NewRecorder(db, "s")
	for i := 0; i < 5; i++ {
		rec.Record(player.Event{Kind: player.EventStateChange, State: player.StateLoading, Previous: player.StateIdle})
	}

	events, err := Query(db, QueryFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Greater(t, events[0].ID, events[1].ID)
}

func TestQuery_NilDatabase(t *testing.T) {
	_, err := Query(nil, QueryFilter{})
	assert.Error(t, err)
	_, err = Summarize(nil, QueryFilter{})
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	for _, age := range []time.Duration{100 * 24 * time.Hour, 91 * 24 * time.Hour, time.Hour} {
		_, err := db.Exec(
			"INSERT INTO playback_events (timestamp, session_id, url, state, previous_state) VALUES (?, 's', 'u', 'playing', 'loading')",
			now.Add(-age).Unix())
		require.NoError(t, err)
	}

	pruned, err := Prune(db, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)

	events, err := Query(db, QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = Prune(nil, now)
	assert.Error(t, err)
}
