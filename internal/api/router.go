package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ostrander/medvault/internal/recordservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *recordservice.Service, wal Wallet, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, wal)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Wallet session.
	r.Post("/session", h.Connect)
	r.Get("/session", h.Session)
	r.Delete("/session", h.Disconnect)

	// Records.
	r.Get("/records", h.ListRecords)
	r.Post("/records", h.UploadRecords)
	r.Get("/records/{id}", h.GetRecord)
	r.Delete("/records/{id}", h.DeleteRecord)
	r.Get("/records/{id}/content", h.DownloadRecord)
	r.Post("/records/{id}/view", h.ViewRecord)

	// Grants.
	r.Post("/records/{id}/grants", h.Grant)
	r.Delete("/records/{id}/grants/{grantee}", h.Revoke)
	r.Get("/records/{id}/chain", h.ChainStatus)
	r.Get("/shared", h.SharedRecords)

	// Audit trail.
	r.Get("/audit", h.AuditTrail)

	// Profile.
	r.Get("/profile", h.GetProfile)
	r.Put("/profile", h.PutProfile)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
