// Package db provides the durable local store for the Synka client:
// the patients table with its per-record synced flag, the sync_queue
// outbox, and deletion tombstones.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB with Synka-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the client SQLite database.
// The database is opened with:
// - WAL mode for concurrent reads/writes
// - Foreign key constraints enabled
// - A single writer connection (SQLite does not support multiple writers)
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "synka.db")

	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	wrapped := &DB{db}
	if err := wrapped.initSchema(); err != nil {
		return nil, err
	}

	return wrapped, nil
}

// OpenInMemory opens an in-memory database with the full schema.
// Used by tests and ephemeral tooling.
func OpenInMemory() (*DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	wrapped := &DB{db}
	if err := wrapped.initSchema(); err != nil {
		return nil, err
	}

	return wrapped, nil
}

// initSchema creates the client tables if they do not exist.
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		date_of_birth TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'EN',
		diagnosis TEXT,
		allergies TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_patients_synced ON patients(synced);
	CREATE INDEX IF NOT EXISTS idx_patients_created_at ON patients(created_at);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL CHECK(action IN ('create','update','delete')),
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);

	CREATE TABLE IF NOT EXISTS deleted_patients (
		id TEXT PRIMARY KEY,
		deleted_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
