// PostgreSQL-backed Store for a shared, multi-instance perfcollect
// deployment, built the same way as the TripWire dashboard's
// internal/server/storage/postgres.go: a pgxpool connection pool, immediate
// writes (no batching — session/snapshot volume here is orders of magnitude
// lower than the dashboard's alert stream, so the batching complexity isn't
// warranted).
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a pgxpool-backed implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection to connStr, pings the
// database, and applies the schema.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("collector: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("collector: pool.Ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("collector: apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	program    TEXT NOT NULL,
	pid        INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ,
	status     TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS snapshots (
	session_id   TEXT NOT NULL REFERENCES sessions (session_id),
	sequence_num BIGINT NOT NULL,
	timestamp_ms BIGINT NOT NULL,
	duration_ms  BIGINT NOT NULL,
	metrics      JSONB NOT NULL,
	received_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, sequence_num)
);
CREATE TABLE IF NOT EXISTS log_lines (
	session_id  TEXT NOT NULL REFERENCES sessions (session_id),
	level       TEXT NOT NULL,
	message     TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_lines_session ON log_lines (session_id, received_at);
`

func (s *PostgresStore) UpsertSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, program, pid, started_at, ended_at, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			status   = excluded.status,
			reason   = excluded.reason`,
		sess.SessionID, sess.Program, sess.Pid, sess.StartedAt, sess.EndedAt,
		string(sess.Status), sess.Reason,
	)
	if err != nil {
		return fmt.Errorf("collector: upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (session_id, sequence_num, timestamp_ms, duration_ms, metrics, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, sequence_num) DO NOTHING`,
		snap.SessionID, snap.SequenceNum, snap.TimestampMs, snap.DurationMs,
		[]byte(snap.Metrics), snap.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("collector: insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertLogLine(ctx context.Context, line LogLine) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO log_lines (session_id, level, message, received_at)
		VALUES ($1, $2, $3, $4)`,
		line.SessionID, line.Level, line.Message, line.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("collector: insert log line: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, program, pid, started_at, ended_at, status, reason
		FROM sessions WHERE session_id = $1`, sessionID)

	var (
		sess   Session
		status string
	)
	if err := row.Scan(&sess.SessionID, &sess.Program, &sess.Pid, &sess.StartedAt, &sess.EndedAt, &status, &sess.Reason); err != nil {
		if err == pgx.ErrNoRows {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("collector: get session: %w", err)
	}
	sess.Status = SessionStatus(status)
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT session_id, program, pid, started_at, ended_at, status, reason FROM sessions`
	args := []any{}
	argIdx := 1
	if q.Status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, string(*q.Status))
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, q.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("collector: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess   Session
			status string
		)
		if err := rows.Scan(&sess.SessionID, &sess.Program, &sess.Pid, &sess.StartedAt, &sess.EndedAt, &status, &sess.Reason); err != nil {
			return nil, fmt.Errorf("collector: list sessions scan: %w", err)
		}
		sess.Status = SessionStatus(status)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, sessionID string, since time.Time, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, sequence_num, timestamp_ms, duration_ms, metrics, received_at
		FROM snapshots
		WHERE session_id = $1 AND received_at >= $2
		ORDER BY sequence_num
		LIMIT $3`,
		sessionID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("collector: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.SessionID, &snap.SequenceNum, &snap.TimestampMs, &snap.DurationMs, &snap.Metrics, &snap.ReceivedAt); err != nil {
			return nil, fmt.Errorf("collector: list snapshots scan: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
