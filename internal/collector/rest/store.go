// Package rest provides the HTTP REST API layer for perfcollect: a chi
// router, JWT authentication middleware guarding the read-only /api/v1
// routes, and handler functions for all /api/v1 routes, mirrored on the TripWire
// dashboard's internal/server/rest package.
package rest

import (
	"context"
	"time"

	"github.com/elus10n/profiler/internal/collector"
)

// Store is the subset of collector.Store used by the REST handlers.
// Declaring a local interface (rather than depending on the concrete
// SQLiteStore/PostgresStore types) keeps handlers testable with a stub.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (collector.Session, error)
	ListSessions(ctx context.Context, q collector.SessionQuery) ([]collector.Session, error)
	ListSnapshots(ctx context.Context, sessionID string, since time.Time, limit int) ([]collector.Snapshot, error)
}
