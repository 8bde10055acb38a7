package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a small key/value table so the session
// survives restarts of the client.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the local storage database
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer is all the client ever needs.
	db.SetMaxOpenConns(1)

	createStorageTable := `
	CREATE TABLE IF NOT EXISTS local_storage (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME
	);`

	if _, err := db.Exec(createStorageTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create local_storage table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get loads the session identifiers
func (s *SQLiteStore) Get(ctx context.Context) (Session, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM local_storage WHERE key IN (?, ?)",
		KeyUserID, KeySessionID,
	)
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to query session: %w", err)
	}
	defer rows.Close()

	var sess Session
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Session{}, false, fmt.Errorf("failed to scan session key: %w", err)
		}
		switch key {
		case KeyUserID:
			sess.UserID = value
		case KeySessionID:
			sess.SessionID = value
		}
	}
	if err := rows.Err(); err != nil {
		return Session{}, false, fmt.Errorf("failed to read session: %w", err)
	}

	if sess.UserID == "" || sess.SessionID == "" {
		return Session{}, false, nil
	}
	return sess, true, nil
}

// Set saves both identifiers in one transaction
func (s *SQLiteStore) Set(ctx context.Context, sess Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, kv := range [][2]string{{KeyUserID, sess.UserID}, {KeySessionID, sess.SessionID}} {
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO local_storage (key, value, updated_at) VALUES (?, ?, ?)",
			kv[0], kv[1], now,
		)
		if err != nil {
			return fmt.Errorf("failed to save %s: %w", kv[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Clear deletes the identifiers
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM local_storage WHERE key IN (?, ?)",
		KeyUserID, KeySessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
