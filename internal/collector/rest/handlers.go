package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elus10n/profiler/internal/collector"
)

// writeError writes a JSON error response with a JSON body containing an
// "error" field.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store Store
}

// NewServer creates a Server backed by store.
func NewServer(store Store) *Server {
	return &Server{store: store}
}

// handleHealthz responds to GET /healthz. It does not require
// authentication and returns HTTP 200 so orchestrators can verify liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleListSessions responds to GET /api/v1/sessions.
//
// Supported query parameters:
//
//	status – RUNNING or ENDED (optional)
//	limit  – maximum number of results (default 100, max 1000)
//	offset – pagination offset (default 0)
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sq := collector.SessionQuery{}

	if statusStr := q.Get("status"); statusStr != "" {
		switch collector.SessionStatus(statusStr) {
		case collector.SessionStatusRunning, collector.SessionStatusEnded:
			st := collector.SessionStatus(statusStr)
			sq.Status = &st
		default:
			writeError(w, http.StatusBadRequest, "'status' must be RUNNING or ENDED")
			return
		}
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if limit > 1000 {
			limit = 1000
		}
		sq.Limit = limit
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "'offset' must be a non-negative integer")
			return
		}
		sq.Offset = offset
	}

	sessions, err := s.store.ListSessions(r.Context(), sq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []collector.Session{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sessions)
}

// handleGetSession responds to GET /api/v1/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err == collector.ErrNotFound {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sess)
}

// handleGetSnapshots responds to GET /api/v1/sessions/{id}/snapshots.
//
// Supported query parameters:
//
//	since – RFC3339 lower bound on received_at (optional, default: epoch)
//	limit – maximum number of results (default 1000)
func (s *Server) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	since := time.Unix(0, 0)
	if sinceStr := q.Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "'since' must be a valid RFC3339 timestamp")
			return
		}
		since = parsed
	}

	limit := 0
	if limitStr := q.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		limit = parsed
	}

	snaps, err := s.store.ListSnapshots(r.Context(), id, since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []collector.Snapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(snaps)
}
