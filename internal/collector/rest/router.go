package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the perfcollect REST API.
//
// Route layout:
//
//	GET /healthz                           – liveness probe (no auth)
//	GET /api/v1/sessions                   – paginated session listing (JWT required)
//	GET /api/v1/sessions/{id}               – single session lookup (JWT required)
//	GET /api/v1/sessions/{id}/snapshots     – session's snapshot history (JWT required)
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on all
// /api routes. Pass nil to disable JWT validation, which is useful in tests
// that cover only request parsing and response formatting.
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/sessions", srv.handleListSessions)
		r.Get("/sessions/{id}", srv.handleGetSession)
		r.Get("/sessions/{id}/snapshots", srv.handleGetSnapshots)
	})

	return r
}
