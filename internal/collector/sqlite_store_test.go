package collector

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestUpsertSessionThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := Session{
		SessionID: "sess-1",
		Program:   "/usr/bin/yes",
		Pid:       4242,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
		Status:    SessionStatusRunning,
	}
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Program != sess.Program || got.Pid != sess.Pid || got.Status != SessionStatusRunning {
		t.Fatalf("GetSession = %+v, want matching %+v", got, sess)
	}

	ended := sess.StartedAt.Add(5 * time.Second)
	sess.EndedAt = &ended
	sess.Status = SessionStatusEnded
	sess.Reason = "explicit_stop"
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession (update): %v", err)
	}

	got, err = s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession after update: %v", err)
	}
	if got.Status != SessionStatusEnded || got.Reason != "explicit_stop" || got.EndedAt == nil {
		t.Fatalf("GetSession after update = %+v, want ended with reason", got)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("GetSession(missing) err = %v, want ErrNotFound", err)
	}
}

func TestInsertAndListSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := Session{SessionID: "sess-2", Program: "a.out", Pid: 1, StartedAt: time.Now(), Status: SessionStatusRunning}
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := int64(0); i < 3; i++ {
		snap := Snapshot{
			SessionID:   "sess-2",
			SequenceNum: i,
			TimestampMs: uint64(i * 500),
			DurationMs:  500,
			Metrics:     []byte(`{"cpu_cycles":100}`),
			ReceivedAt:  base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := s.InsertSnapshot(ctx, snap); err != nil {
			t.Fatalf("InsertSnapshot(%d): %v", i, err)
		}
	}

	snaps, err := s.ListSnapshots(ctx, "sess-2", base.Add(-time.Second), 10)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("ListSnapshots returned %d rows, want 3", len(snaps))
	}
	for i, snap := range snaps {
		if snap.SequenceNum != int64(i) {
			t.Fatalf("snapshot[%d].SequenceNum = %d, want %d (ordering)", i, snap.SequenceNum, i)
		}
	}
}

func TestListSessionsFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	running := SessionStatusRunning
	ended := SessionStatusEnded
	_ = s.UpsertSession(ctx, Session{SessionID: "a", Program: "a", StartedAt: time.Now(), Status: running})
	_ = s.UpsertSession(ctx, Session{SessionID: "b", Program: "b", StartedAt: time.Now(), Status: ended})

	got, err := s.ListSessions(ctx, SessionQuery{Status: &running})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "a" {
		t.Fatalf("ListSessions(running) = %+v, want only session a", got)
	}
}
