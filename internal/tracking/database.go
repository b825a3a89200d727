// Package tracking records engine state changes to SQLite and answers
// history queries over them.
package tracking

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// InMemory opens a private database that lives as long as the handle
const InMemory = ":memory:"

// migrations[i] upgrades a database at user_version i to i+1
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS playback_events (
		id             INTEGER PRIMARY KEY,
		timestamp      INTEGER NOT NULL,
		session_id     TEXT    NOT NULL,
		url            TEXT    NOT NULL,
		state          TEXT    NOT NULL,
		previous_state TEXT    NOT NULL,
		error_kind     TEXT,
		error_message  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_playback_timestamp ON playback_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_playback_session ON playback_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_playback_state ON playback_events(state);`,
}

// SchemaVersion is the user_version of a fully migrated database
var SchemaVersion = len(migrations)

// NewDatabase opens the history database at dbPath, creating its directory,
// and migrates it to SchemaVersion.
func NewDatabase(dbPath string) (*sql.DB, error) {
	if dbPath != InMemory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == InMemory {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrate applies every migration above the database's user_version, each
// in its own transaction together with the version bump
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("history database schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	for v := version; v < SchemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v+1, err)
		}
		slog.Debug("history database migrated", "version", v+1)
	}
	return nil
}
