//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/collector/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package collector_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/elus10n/profiler/internal/collector"
)

func setupPostgresStore(t *testing.T) (*collector.PostgresStore, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("profiler_test"),
		tcpostgres.WithUsername("profiler"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	store, err := collector.NewPostgresStore(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("NewPostgresStore: %v", err)
	}

	cleanup := func() {
		_ = store.Close(ctx)
		_ = pgContainer.Terminate(ctx)
	}
	return store, cleanup
}

func TestPostgresStoreSessionLifecycle(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	sess := collector.Session{
		SessionID: "pg-sess-1",
		Program:   "/usr/bin/stress",
		Pid:       99,
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
		Status:    collector.SessionStatusRunning,
	}
	if err := store.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	got, err := store.GetSession(ctx, "pg-sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Program != sess.Program {
		t.Fatalf("GetSession.Program = %q, want %q", got.Program, sess.Program)
	}

	snap := collector.Snapshot{
		SessionID:   "pg-sess-1",
		SequenceNum: 0,
		TimestampMs: 1000,
		DurationMs:  500,
		Metrics:     []byte(`{"instructions":123}`),
		ReceivedAt:  time.Now(),
	}
	if err := store.InsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}

	snaps, err := store.ListSnapshots(ctx, "pg-sess-1", time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("ListSnapshots returned %d rows, want 1", len(snaps))
	}
}
