package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Tool call outcomes
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Store is a SQLite-backed audit log of sessions and tool calls.
// Conversation content is never written here, only call metadata.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the audit database and creates the schema if needed
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		uid TEXT,
		start_time DATETIME
	);`

	createToolCallsTable := `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		uid TEXT,
		tool TEXT,
		outcome TEXT,
		detail TEXT,
		duration_ms INTEGER,
		created DATETIME,
		FOREIGN KEY(session_id) REFERENCES sessions(id)
	);`

	if _, err := db.Exec(createSessionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	if _, err := db.Exec(createToolCallsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tool_calls table: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// RecordSession records a new connection's session
func (s *Store) RecordSession(sessionID, uid string, startTime time.Time) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO sessions (id, uid, start_time) VALUES (?, ?, ?)",
		sessionID, uid, startTime,
	)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// RecordToolCall records one mediated tool invocation and its outcome
func (s *Store) RecordToolCall(sessionID, uid, tool, outcome, detail string, duration time.Duration) error {
	_, err := s.db.Exec(
		"INSERT INTO tool_calls (session_id, uid, tool, outcome, detail, duration_ms, created) VALUES (?, ?, ?, ?, ?, ?, ?)",
		sessionID, uid, tool, outcome, detail, duration.Milliseconds(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record tool call: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
