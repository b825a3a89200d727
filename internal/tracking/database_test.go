package tracking

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory database with the schema applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDatabase(InMemory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func userVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var v int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&v))
	return v
}

func TestNewDatabase_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "palace", "history.db")

	db, err := NewDatabase(dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
	assert.Equal(t, SchemaVersion, userVersion(t, db))
}

func TestNewDatabase_Schema(t *testing.T) {
	db := setupTestDB(t)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM playback_events").Scan(&count))
	assert.Zero(t, count)

	for _, index := range []string{"idx_playback_timestamp", "idx_playback_session", "idx_playback_state"} {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&n))
		assert.Equal(t, 1, n, "index %s missing", index)
	}

	_, err := db.Exec("INSERT INTO playback_events (timestamp, session_id, url, previous_state) VALUES (1, 's', 'u', 'loading')")
	assert.Error(t, err, "state must be NOT NULL")
}

func TestNewDatabase_Pragmas(t *testing.T) {
	db := setupTestDB(t)

	tests := []struct {
		pragma string
		want   string
	}{
		{"PRAGMA busy_timeout", "10000"},
		{"PRAGMA synchronous", "1"}, // NORMAL
		{"PRAGMA temp_store", "2"},  // MEMORY
	}
	for _, tt := range tests {
		var got string
		require.NoError(t, db.QueryRow(tt.pragma).Scan(&got))
		assert.Equal(t, tt.want, got, tt.pragma)
	}
}

func TestNewDatabase_ReopenKeepsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := NewDatabase(dbPath)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO playback_events (timestamp, session_id, url, state, previous_state) VALUES (1, 's', 'u', 'playing', 'loading')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDatabase(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM playback_events").Scan(&count))
	assert.Equal(t, 1, count)
	assert.Equal(t, SchemaVersion, userVersion(t, db))
}

func TestNewDatabase_RejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := NewDatabase(dbPath)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewDatabase(dbPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}
