// SQLite-backed Store for a single-instance perfcollect deployment, built
// the same way as the TripWire agent's internal/queue/sqlite_queue.go: WAL
// mode, a single-connection pool to serialize writers, and an idempotent
// schema applied on open.
package collector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// SQLiteStore is a WAL-mode SQLite implementation of Store. It is safe for
// concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. If path is ":memory:", an in-memory database is used.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("collector: open %q: %w", path, err)
	}

	// A single writer connection avoids "database is locked" errors when
	// the ingest server and REST handlers hit the store concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("collector: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("collector: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(sqliteDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("collector: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    program    TEXT NOT NULL,
    pid        INTEGER NOT NULL,
    started_at TEXT NOT NULL,
    ended_at   TEXT,
    status     TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS snapshots (
    session_id   TEXT NOT NULL,
    sequence_num INTEGER NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL,
    metrics      TEXT NOT NULL,
    received_at  TEXT NOT NULL,
    PRIMARY KEY (session_id, sequence_num)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots (session_id, sequence_num);
CREATE TABLE IF NOT EXISTS log_lines (
    session_id  TEXT NOT NULL,
    level       TEXT NOT NULL,
    message     TEXT NOT NULL,
    received_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_lines_session ON log_lines (session_id, received_at);
`

func (s *SQLiteStore) UpsertSession(ctx context.Context, sess Session) error {
	var endedAt any
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, program, pid, started_at, ended_at, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			status   = excluded.status,
			reason   = excluded.reason`,
		sess.SessionID, sess.Program, sess.Pid,
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		endedAt, string(sess.Status), sess.Reason,
	)
	if err != nil {
		return fmt.Errorf("collector: upsert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, sequence_num, timestamp_ms, duration_ms, metrics, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, sequence_num) DO NOTHING`,
		snap.SessionID, snap.SequenceNum, snap.TimestampMs, snap.DurationMs,
		string(snap.Metrics), snap.ReceivedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("collector: insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertLogLine(ctx context.Context, line LogLine) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_lines (session_id, level, message, received_at)
		VALUES (?, ?, ?, ?)`,
		line.SessionID, line.Level, line.Message,
		line.ReceivedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("collector: insert log line: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, program, pid, started_at, ended_at, status, reason
		FROM sessions WHERE session_id = ?`, sessionID)

	var (
		sess         Session
		startedAt    string
		endedAt      sql.NullString
		status       string
	)
	if err := row.Scan(&sess.SessionID, &sess.Program, &sess.Pid, &startedAt, &endedAt, &status, &sess.Reason); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("collector: get session: %w", err)
	}
	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	sess.Status = SessionStatus(status)
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err == nil {
			sess.EndedAt = &t
		}
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT session_id, program, pid, started_at, ended_at, status, reason FROM sessions`
	args := []any{}
	if q.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*q.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("collector: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess      Session
			startedAt string
			endedAt   sql.NullString
			status    string
		)
		if err := rows.Scan(&sess.SessionID, &sess.Program, &sess.Pid, &startedAt, &endedAt, &status, &sess.Reason); err != nil {
			return nil, fmt.Errorf("collector: list sessions scan: %w", err)
		}
		sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		sess.Status = SessionStatus(status)
		if endedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err == nil {
				sess.EndedAt = &t
			}
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, sessionID string, since time.Time, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, sequence_num, timestamp_ms, duration_ms, metrics, received_at
		FROM snapshots
		WHERE session_id = ? AND received_at >= ?
		ORDER BY sequence_num
		LIMIT ?`,
		sessionID, since.UTC().Format(time.RFC3339Nano), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("collector: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap       Snapshot
			metrics    string
			receivedAt string
		)
		if err := rows.Scan(&snap.SessionID, &snap.SequenceNum, &snap.TimestampMs, &snap.DurationMs, &metrics, &receivedAt); err != nil {
			return nil, fmt.Errorf("collector: list snapshots scan: %w", err)
		}
		snap.Metrics = []byte(metrics)
		snap.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}
