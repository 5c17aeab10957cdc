package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elus10n/profiler/internal/collector"
)

func TestHandleGetSessionNotFound(t *testing.T) {
	srv := NewServer(&mockStore{})
	h := NewRouter(srv, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleGetSessionFound(t *testing.T) {
	store := &mockStore{sessions: []collector.Session{
		{SessionID: "s1", Program: "sleep", Pid: 10, StartedAt: time.Now(), Status: collector.SessionStatusRunning},
	}}
	h := NewRouter(NewServer(store), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got collector.Session
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.SessionID != "s1" {
		t.Fatalf("SessionID = %q, want s1", got.SessionID)
	}
}

func TestHandleListSessionsRejectsBadStatus(t *testing.T) {
	h := NewRouter(NewServer(&mockStore{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?status=BOGUS", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetSnapshotsRejectsBadSince(t *testing.T) {
	h := NewRouter(NewServer(&mockStore{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/snapshots?since=not-a-time", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetSnapshotsReturnsEmptyArrayNotNull(t *testing.T) {
	h := NewRouter(NewServer(&mockStore{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/snapshots", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if body != "[]\n" {
		t.Fatalf("body = %q, want empty JSON array", body)
	}
}
