package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go-dataverse-download/internal/models"

	log "github.com/sirupsen/logrus"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no matching history rows exist.
var ErrNotFound = errors.New("no history entries found")

// DB wraps the SQLite database instance and provides helper methods.
type DB struct {
	db *sql.DB
	sync.RWMutex
	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", path, err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database at %s: %w", path, err)
	}

	dbWrapper := &DB{db: db}

	if err := dbWrapper.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	log.Debugf("SQLite database opened successfully at %s", path)
	return dbWrapper, nil
}

// initSchema creates the database schema if it doesn't exist
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS download_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		persistent_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		outcome TEXT NOT NULL,
		bytes INTEGER NOT NULL DEFAULT 0,
		error_details TEXT,
		timestamp INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_history_persistent_id ON download_history(persistent_id);
	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON download_history(timestamp);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close safely closes the database connection.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		log.Debug("Closing history database...")
		d.Lock()
		defer d.Unlock()

		d.closeErr = d.db.Close()
		d.closed = true

		if d.closeErr != nil {
			log.Errorf("Error during database close operation: %v", d.closeErr)
		}
	})

	return d.closeErr
}

// RecordOutcome stores one per-file download outcome. The entry's timestamp
// defaults to the current time when unset.
func (d *DB) RecordOutcome(entry models.HistoryEntry) error {
	d.Lock()
	defer d.Unlock()

	if d.closed {
		return fmt.Errorf("database is closed")
	}

	ts := entry.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	_, err := d.db.Exec(
		`INSERT INTO download_history (persistent_id, file_name, outcome, bytes, error_details, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.PersistentID, entry.FileName, entry.Outcome, entry.Bytes, entry.ErrorDetails, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", entry.FileName, err)
	}
	return nil
}

// ListHistory returns recorded outcomes, newest first. A non-empty
// persistentID restricts the result to one dataset; limit <= 0 means all.
func (d *DB) ListHistory(persistentID string, limit int) ([]models.HistoryEntry, error) {
	d.RLock()
	defer d.RUnlock()

	if d.closed {
		return nil, fmt.Errorf("database is closed")
	}

	query := `SELECT id, persistent_id, file_name, outcome, bytes, COALESCE(error_details, ''), timestamp
		 FROM download_history`
	var args []interface{}
	if persistentID != "" {
		query += " WHERE persistent_id = ?"
		args = append(args, persistentID)
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.PersistentID, &e.FileName, &e.Outcome, &e.Bytes, &e.ErrorDetails, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}

	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}
