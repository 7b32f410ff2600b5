// Package meta persists per-session metadata that must outlive both the
// tmux session tree and the monitor process: explicit agent overrides,
// tags, completion status, and the last prompt preview.
package meta

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/awmdev/awm/internal/config"
)

// SchemaVersion is bumped when the table layout changes.
const SchemaVersion = 1

// DBFileName is the sqlite file inside the awm home directory.
const DBFileName = "awm.db"

// Meta is the stored record for one session name.
type Meta struct {
	Session       string
	Agent         string
	Tag           string
	Status        string
	PromptPreview string
	UpdatedAt     time.Time
}

// Store wraps the sqlite database. Safe for concurrent use; WAL mode
// lets a second awm instance read while this one writes.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the database path inside the awm home directory.
func DefaultPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DBFileName), nil
}

// Open creates or opens the database and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("meta: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("meta: open: %w", err)
	}

	// WAL allows concurrent readers while writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("meta: wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("meta: busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints the WAL back into the main file and closes the db.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("meta: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("meta: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS session_meta (
			session_name   TEXT PRIMARY KEY,
			agent          TEXT NOT NULL DEFAULT '',
			tag            TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT '',
			prompt_preview TEXT NOT NULL DEFAULT '',
			updated_at     INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("meta: create session_meta: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("meta: set schema version: %w", err)
	}

	return tx.Commit()
}

// Get returns the meta for one session.
func (s *Store) Get(session string) (Meta, bool, error) {
	var m Meta
	var updated int64
	err := s.db.QueryRow(`
		SELECT session_name, agent, tag, status, prompt_preview, updated_at
		FROM session_meta WHERE session_name = ?
	`, session).Scan(&m.Session, &m.Agent, &m.Tag, &m.Status, &m.PromptPreview, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, err
	}
	m.UpdatedAt = time.Unix(updated, 0)
	return m, true, nil
}

// GetAll returns every record keyed by session name. One query per poll
// tick instead of one per session.
func (s *Store) GetAll() (map[string]Meta, error) {
	rows, err := s.db.Query(`
		SELECT session_name, agent, tag, status, prompt_preview, updated_at
		FROM session_meta
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Meta)
	for rows.Next() {
		var m Meta
		var updated int64
		if err := rows.Scan(&m.Session, &m.Agent, &m.Tag, &m.Status, &m.PromptPreview, &updated); err != nil {
			return nil, err
		}
		m.UpdatedAt = time.Unix(updated, 0)
		out[m.Session] = m
	}
	return out, rows.Err()
}

// Upsert writes the full record for a session.
func (s *Store) Upsert(m Meta) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO session_meta
			(session_name, agent, tag, status, prompt_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Session, m.Agent, m.Tag, m.Status, m.PromptPreview, time.Now().Unix())
	if err != nil {
		return err
	}
	return s.touch()
}

// SetStatus updates only the status column, creating the row if needed.
func (s *Store) SetStatus(session, status string) error {
	return s.setColumn(session, "status", status)
}

// SetAgent sets or clears the explicit agent override.
func (s *Store) SetAgent(session, agent string) error {
	return s.setColumn(session, "agent", agent)
}

// SetPromptPreview remembers the latest prompt snippet for a session.
func (s *Store) SetPromptPreview(session, preview string) error {
	return s.setColumn(session, "prompt_preview", preview)
}

func (s *Store) setColumn(session, column, value string) error {
	// Column names come from the fixed callers above, never user input.
	q := fmt.Sprintf(`
		INSERT INTO session_meta (session_name, %s, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_name) DO UPDATE SET
			%s = excluded.%s,
			updated_at = excluded.updated_at
	`, column, column, column)
	if _, err := s.db.Exec(q, session, value, time.Now().Unix()); err != nil {
		return err
	}
	return s.touch()
}

// Delete removes a session's record, typically after the session is
// killed for good.
func (s *Store) Delete(session string) error {
	if _, err := s.db.Exec(`DELETE FROM session_meta WHERE session_name = ?`, session); err != nil {
		return err
	}
	return s.touch()
}

// touch bumps the last-modified marker other instances poll.
func (s *Store) touch() error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('last_modified', ?)
	`, strconv.FormatInt(time.Now().UnixNano(), 10))
	return err
}

// LastModified returns when any record last changed. Zero time when the
// store has never been written.
func (s *Store) LastModified() (time.Time, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'last_modified'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("meta: bad last_modified value: %w", err)
	}
	return time.Unix(0, nanos), nil
}
