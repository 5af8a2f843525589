package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ostrander/medvault/internal/apperr"
	"github.com/ostrander/medvault/internal/ledger"
	"github.com/ostrander/medvault/internal/models"
	"github.com/ostrander/medvault/internal/pinning"
	"github.com/ostrander/medvault/internal/recordservice"
	"github.com/ostrander/medvault/internal/wallet"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Wallet is the identity surface the handlers need from a wallet session.
type Wallet interface {
	Connect(ctx context.Context) (wallet.Identity, error)
	Identity() (wallet.Identity, error)
	Disconnect()
}

// Handler holds API route handlers.
type Handler struct {
	svc *recordservice.Service
	wal Wallet
}

// NewHandler creates a new Handler.
func NewHandler(svc *recordservice.Service, wal Wallet) *Handler {
	return &Handler{svc: svc, wal: wal}
}

// actor resolves the connected wallet address, writing a 401 when no
// session is active.
func (h *Handler) actor(w http.ResponseWriter) (string, bool) {
	id, err := h.wal.Identity()
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.ErrNoSession.Error())
		return "", false
	}
	return id.Address, true
}

// Connect handles POST /api/session.
//
//	@Summary		Connect the wallet and open a session
//	@Tags			session
//	@Produce		json
//	@Success		201	{object}	SessionResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/session [post]
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	id, err := h.wal.Connect(r.Context())
	if err != nil {
		slog.Error("wallet connect failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "wallet connection failed")
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Address: id.Address, Network: id.Network})
}

// Session handles GET /api/session.
//
//	@Summary		Get the current session identity
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Failure		401	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/session [get]
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	id, err := h.wal.Identity()
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperr.ErrNoSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Address: id.Address, Network: id.Network})
}

// Disconnect handles DELETE /api/session.
//
//	@Summary		Disconnect the wallet
//	@Tags			session
//	@Success		204	"Session closed"
//	@Security		BearerAuth
//	@Router			/session [delete]
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.wal.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

// parseTime accepts RFC 3339 timestamps or plain dates (2006-01-02).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// ListRecords handles GET /api/records.
//
//	@Summary		List the caller's records with optional filtering
//	@Tags			records
//	@Produce		json
//	@Param			q			query		string	false	"Substring match on name or category"
//	@Param			category	query		string	false	"Exact category"	Enums(Lab Results, Imaging, Prescription, Diagnosis, Other)
//	@Param			from		query		string	false	"Created at or after (RFC 3339 or YYYY-MM-DD)"
//	@Param			to			query		string	false	"Created at or before (RFC 3339 or YYYY-MM-DD)"
//	@Success		200			{object}	RecordListResponse
//	@Failure		401			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := ledger.RecordFilter{
		Query:    q.Get("q"),
		Category: q.Get("category"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' timestamp")
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' timestamp")
			return
		}
		filter.To = t
	}

	records, err := h.svc.List(r.Context(), actor, filter)
	if err != nil {
		slog.Error("list records failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, RecordListResponse{Records: records, Total: len(records)})
}

// UploadRecords handles POST /api/records (multipart/form-data).
// Each part in the "files" field becomes one record; the optional
// "category" form value applies to every file in the batch.
//
//	@Summary		Upload one or more documents as records
//	@Tags			records
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			files		formData	file	true	"Documents to upload"
//	@Param			category	formData	string	false	"Category for all files"
//	@Success		201			{object}	UploadResponse
//	@Failure		400			{object}	errResponse
//	@Failure		401			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records [post]
func (h *Handler) UploadRecords(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid multipart")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "missing 'files' field in multipart form")
		return
	}
	category := r.FormValue("category")

	items := make([]recordservice.UploadItem, 0, len(headers))
	for _, hdr := range headers {
		f, err := hdr.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read %s", hdr.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read %s", hdr.Filename))
			return
		}
		items = append(items, recordservice.UploadItem{
			Name:     hdr.Filename,
			Category: category,
			Data:     data,
		})
	}

	records, err := h.svc.UploadBatch(r.Context(), actor, items, nil)
	if err != nil {
		var upErr *pinning.UploadError
		switch {
		case errors.Is(err, pinning.ErrNoCredentials):
			writeError(w, http.StatusServiceUnavailable, "pinning credentials not configured")
		case errors.As(err, &upErr):
			writeError(w, http.StatusBadGateway, upErr.Error())
		default:
			slog.Error("upload failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, UploadResponse{Records: records})
}

// GetRecord handles GET /api/records/{id}.
//
//	@Summary		Get a single record by id
//	@Tags			records
//	@Produce		json
//	@Param			id	path		string	true	"Record id"
//	@Success		200	{object}	models.Record
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	rec, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("get record failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/records/{id}.
//
//	@Summary		Delete a record and its grants
//	@Tags			records
//	@Param			id	path	string	true	"Record id"
//	@Success		204	"Record deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id} [delete]
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	if err := h.svc.Remove(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("delete record failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadRecord handles GET /api/records/{id}/content.
// The optional "owner" query parameter lets a grantee fetch a record
// shared with them; it defaults to the caller.
//
//	@Summary		Download the document content for a record
//	@Tags			records
//	@Produce		application/octet-stream
//	@Param			id		path	string	true	"Record id"
//	@Param			owner	query	string	false	"Record owner address (for shared records)"
//	@Success		200		"Document bytes"
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id}/content [get]
func (h *Handler) DownloadRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = actor
	}

	data, rec, err := h.svc.Download(r.Context(), actor, owner, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, apperr.ErrForbidden):
			writeError(w, http.StatusForbidden, "access denied")
		default:
			slog.Error("download failed", slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "content retrieval failed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", url.PathEscape(rec.Name)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ViewRecord handles POST /api/records/{id}/view. It records a view in
// the audit trail without fetching content.
//
//	@Summary		Record that the caller viewed a record
//	@Tags			records
//	@Param			id		path	string	true	"Record id"
//	@Param			owner	query	string	false	"Record owner address (for shared records)"
//	@Success		204		"View recorded"
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id}/view [post]
func (h *Handler) ViewRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = actor
	}
	if err := h.svc.RecordView(r.Context(), actor, owner, chi.URLParam(r, "id")); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, apperr.ErrForbidden):
			writeError(w, http.StatusForbidden, "access denied")
		default:
			slog.Error("record view failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Grant handles POST /api/records/{id}/grants.
//
//	@Summary		Grant a provider access to a record
//	@Tags			grants
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Record id"
//	@Param			body	body		GrantRequest	true	"Grantee address"
//	@Success		200		{object}	models.Record
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id}/grants [post]
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := h.svc.Grant(r.Context(), actor, chi.URLParam(r, "id"), req.Grantee)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalidGrantee):
			writeError(w, http.StatusBadRequest, "invalid grantee address")
		case errors.Is(err, apperr.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		default:
			slog.Error("grant failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Revoke handles DELETE /api/records/{id}/grants/{grantee}.
//
//	@Summary		Revoke a provider's access to a record
//	@Tags			grants
//	@Produce		json
//	@Param			id		path		string	true	"Record id"
//	@Param			grantee	path		string	true	"Grantee address"
//	@Success		200		{object}	models.Record
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id}/grants/{grantee} [delete]
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	rec, err := h.svc.Revoke(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "grantee"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("revoke failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ChainStatus handles GET /api/records/{id}/chain.
//
//	@Summary		Read a record's grant state from the on-chain registry
//	@Tags			grants
//	@Produce		json
//	@Param			id		path		string	true	"Record id"
//	@Param			grantee	query		string	true	"Grantee address"
//	@Param			owner	query		string	false	"Record owner, defaults to the caller"
//	@Success		200		{object}	recordservice.ChainStatus
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id}/chain [get]
func (h *Handler) ChainStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = actor
	}
	grantee := r.URL.Query().Get("grantee")

	status, err := h.svc.ChainAccess(r.Context(), actor, owner, chi.URLParam(r, "id"), grantee)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrMirrorDisabled):
			writeError(w, http.StatusServiceUnavailable, "chain mirror disabled")
		case errors.Is(err, apperr.ErrInvalidGrantee):
			writeError(w, http.StatusBadRequest, "invalid grantee address")
		case errors.Is(err, apperr.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, apperr.ErrForbidden):
			writeError(w, http.StatusForbidden, "access denied")
		default:
			slog.Error("chain status failed", slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "chain read failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SharedRecords handles GET /api/shared.
//
//	@Summary		List records other owners shared with the caller
//	@Tags			grants
//	@Produce		json
//	@Success		200	{object}	SharedListResponse
//	@Failure		401	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/shared [get]
func (h *Handler) SharedRecords(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	shared, err := h.svc.SharedWith(r.Context(), actor)
	if err != nil {
		slog.Error("shared list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, SharedListResponse{Records: shared, Total: len(shared)})
}

// AuditTrail handles GET /api/audit.
//
//	@Summary		List the caller's audit trail, most recent first
//	@Tags			audit
//	@Produce		json
//	@Param			limit	query		int	false	"Max entries"
//	@Success		200		{object}	AuditResponse
//	@Failure		401		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/audit [get]
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.Audit(r.Context(), actor, limit)
	if err != nil {
		slog.Error("audit list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, AuditResponse{Entries: entries})
}

// GetProfile handles GET /api/profile.
//
//	@Summary		Get the caller's profile
//	@Tags			profile
//	@Produce		json
//	@Success		200	{object}	models.Profile
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/profile [get]
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	p, err := h.svc.Profile(r.Context(), actor)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("get profile failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutProfile handles PUT /api/profile.
//
//	@Summary		Create or update the caller's profile
//	@Tags			profile
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.Profile	true	"Profile"
//	@Success		200		{object}	models.Profile
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/profile [put]
func (h *Handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w)
	if !ok {
		return
	}
	var p models.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// The profile always belongs to the connected identity.
	p.Principal = actor
	if err := h.svc.SaveProfile(r.Context(), p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}
