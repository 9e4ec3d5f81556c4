package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStorage persists slot values in a single-table SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage opens and migrates the slot database at path.
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS identity_slots (
		slot TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements Storage.
func (s *SQLiteStorage) Get(key string) (string, bool, error) {
	row := s.db.QueryRow(`SELECT value FROM identity_slots WHERE slot = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set implements Storage.
func (s *SQLiteStorage) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO identity_slots (slot, value) VALUES (?, ?)
		 ON CONFLICT(slot) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// Delete implements Storage.
func (s *SQLiteStorage) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM identity_slots WHERE slot = ?`, key)
	return err
}
