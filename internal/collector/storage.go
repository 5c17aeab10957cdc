package collector

import (
	"context"
	"time"
)

// Store is the persistence contract the gRPC ingest service and the REST
// handlers share, modeled on the TripWire dashboard's storage.Store /
// rest.Store split: one interface, two concrete backends (SQLite for a
// single perfcollect instance, PostgreSQL for a shared deployment).
type Store interface {
	// UpsertSession records a session's start, or updates its terminal
	// status and reason if it already exists. Called once on the first
	// event of a session and once more when a session-ended event arrives.
	UpsertSession(ctx context.Context, s Session) error

	// InsertSnapshot persists one reported metrics snapshot.
	InsertSnapshot(ctx context.Context, snap Snapshot) error

	// InsertLogLine persists one reported log or error line.
	InsertLogLine(ctx context.Context, line LogLine) error

	// GetSession returns the session with the given ID, or an error
	// satisfying errors.Is(err, ErrNotFound) if it does not exist.
	GetSession(ctx context.Context, sessionID string) (Session, error)

	// ListSessions returns sessions matching q, most recently started first.
	ListSessions(ctx context.Context, q SessionQuery) ([]Session, error)

	// ListSnapshots returns the snapshots for sessionID in sequence order.
	ListSnapshots(ctx context.Context, sessionID string, since time.Time, limit int) ([]Snapshot, error)

	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}
