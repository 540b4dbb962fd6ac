// Package sqlite provides a durable core.SessionStore backed by an embedded
// SQLite database. It uses the pure-Go modernc.org/sqlite driver, so no cgo
// toolchain is required.
//
// Sessions live in a sessions table keyed by id; events are appended to a
// session_events table in arrival order and replayed on Get. Event payloads
// and session state are stored as JSON, using the tagged part envelopes from
// the core package so media parts survive the round-trip.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/session"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  app_name TEXT NOT NULL,
  user_id TEXT NOT NULL,
  state TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_events (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  event_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at TEXT NOT NULL,
  FOREIGN KEY(session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, seq)
`

// Store is a SessionStore persisting sessions and their event history to a
// SQLite database file. Safe for concurrent use; SQLite serializes writers
// and the busy timeout absorbs short contention.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the database at path and returns a
// ready Store. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	statements := strings.Split(schemaSQL, ";")
	for _, raw := range statements {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w (statement=%q)", err, stmt)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create allocates a new session under the given app/user scope. An existing
// session with the same id is replaced and its event history cleared.
func (s *Store) Create(appName, userID, id string) (*core.Session, error) {
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM session_events WHERE session_id = ?`, id); err != nil {
		return nil, fmt.Errorf("clear events: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO sessions (id, app_name, user_id, state, created_at, updated_at)
		VALUES (?, ?, ?, '{}', ?, ?)
		ON CONFLICT(id) DO UPDATE SET app_name = excluded.app_name, user_id = excluded.user_id,
			state = '{}', created_at = excluded.created_at, updated_at = excluded.updated_at`,
		id, appName, userID, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}

	return core.NewSession(appName, userID, id), nil
}

// Get loads the session row and replays its event history.
func (s *Store) Get(id string) (*core.Session, error) {
	var (
		appName, userID        string
		stateJSON              string
		createdStr, updatedStr string
	)

	err := s.db.QueryRow(`SELECT app_name, user_id, state, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&appName, &userID, &stateJSON, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	state := map[string]interface{}{}
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
	}

	events, err := s.loadEvents(id)
	if err != nil {
		return nil, err
	}

	sess := core.NewSession(appName, userID, id)
	sess.State = state
	sess.Events = events
	sess.Created, _ = time.Parse(time.RFC3339Nano, createdStr)
	sess.Updated, _ = time.Parse(time.RFC3339Nano, updatedStr)

	return sess, nil
}

// AppendEvent persists an event at the tail of the session's history.
func (s *Store) AppendEvent(sessionID string, ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := sessionExists(tx, sessionID); err != nil {
		return err
	}

	if _, err := tx.Exec(`INSERT INTO session_events (session_id, event_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, ev.ID, string(payload), now); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if _, err := tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit()
}

// ApplyDelta merges a key/value delta into the stored session state.
func (s *Store) ApplyDelta(sessionID string, delta map[string]interface{}) error {
	if len(delta) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delta: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stateJSON string
	err = tx.QueryRow(`SELECT state FROM sessions WHERE id = ?`, sessionID).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}

	state := map[string]interface{}{}
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
	}

	for k, v := range delta {
		state[k] = v
	}

	merged, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`, string(merged), now, sessionID); err != nil {
		return fmt.Errorf("update state: %w", err)
	}

	return tx.Commit()
}

func (s *Store) loadEvents(sessionID string) ([]core.Event, error) {
	rows, err := s.db.Query(`SELECT payload FROM session_events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	events := []core.Event{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		var ev core.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}

		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

func sessionExists(tx *sql.Tx, sessionID string) error {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", session.ErrNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("select session: %w", err)
	}
	return nil
}
