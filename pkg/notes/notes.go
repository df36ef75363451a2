// Package notes stores durable debugging notes in a per-project SQLite file.
// Notes are advisory context that accumulates across sessions; appends are
// best-effort side effects and must never fail a coordinator turn.
package notes

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite driver
)

// Note kinds.
const (
	KindHypothesis = "hypothesis"
	KindProgress   = "progress"
	KindSolution   = "solution"
)

// Note is one durable record.
type Note struct {
	ID        int64
	SessionID string
	Kind      string
	Text      string
	CreatedAt time.Time
}

// Store is a handle to the notes database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the notes database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open notes database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to notes database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_notes_session ON notes(session_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate notes schema: %w", err)
	}
	return nil
}

// Add appends one note.
func (s *Store) Add(sessionID, kind, text string) error {
	_, err := s.db.Exec(
		`INSERT INTO notes (session_id, kind, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, kind, text, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

// List returns the most recent notes, newest first.
func (s *Store) List(limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, kind, text, created_at FROM notes ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Kind, &n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	return out, nil
}

// ListSession returns one session's notes in insertion order.
func (s *Store) ListSession(sessionID string) ([]Note, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, kind, text, created_at FROM notes WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Kind, &n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session notes: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
