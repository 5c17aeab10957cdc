// Package collector is the server side of the profiler's optional remote
// pipeline: it receives streamed session events from perfprobe instances
// over gRPC, persists sessions and snapshots, and serves them back out over
// a REST API, mirroring the shape of the TripWire dashboard server's
// internal/server/{grpc,storage,rest} split.
package collector

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a recorded session as seen by the
// collector, distinct from session.State which only exists inside the
// perfprobe process that owns the supervisor and engine.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "RUNNING"
	SessionStatusEnded   SessionStatus = "ENDED"
)

// Session maps to the `sessions` table (or the equivalent SQLite schema).
//
// SessionID is the client-generated UUID a perfprobe Client tags every event
// with; it is the primary key, not a database-assigned surrogate, since the
// collector must be able to accept a session's events out of order with
// respect to connection retries.
type Session struct {
	SessionID string        `json:"session_id"`
	Program   string        `json:"program"`
	Pid       int32         `json:"pid"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Status    SessionStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
}

// Snapshot maps to the `snapshots` table: one row per metrics.Snapshot
// reported by a session, stored as the raw JSON fields from the event
// envelope rather than re-parsed into typed columns, since the collector
// has no need to query on individual metric values.
type Snapshot struct {
	SessionID   string          `json:"session_id"`
	SequenceNum int64           `json:"sequence_num"`
	TimestampMs uint64          `json:"timestamp_ms"`
	DurationMs  uint64          `json:"duration_ms"`
	Metrics     json.RawMessage `json:"metrics"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// LogLine maps to the `log_lines` table: one row per log/error observer
// event reported by a session.
type LogLine struct {
	SessionID  string    `json:"session_id"`
	Level      string    `json:"level"` // "log" or "error"
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// SessionQuery carries the filter and pagination parameters for ListSessions.
type SessionQuery struct {
	Status *SessionStatus
	Limit  int
	Offset int
}
