// Package recordservice coordinates the pinning client, the access
// ledger, and the audit trail. All mutating operations run under the
// acting principal's identity and append audit entries.
package recordservice

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ostrander/medvault/internal/apperr"
	"github.com/ostrander/medvault/internal/checksum"
	"github.com/ostrander/medvault/internal/ledger"
	"github.com/ostrander/medvault/internal/models"
)

// Pinner is the content-addressed store the service uploads to.
type Pinner interface {
	PinFile(ctx context.Context, name string, payload []byte) (string, error)
	Fetch(ctx context.Context, cid string) ([]byte, error)
	GatewayURL(cid string) string
}

// Mirror replays grant/revoke operations to the on-chain access
// registry. The local ledger is authoritative; mirror failures are
// recorded but never roll back local state.
type Mirror interface {
	GrantAccess(ctx context.Context, grantee, cid string) error
	RevokeAccess(ctx context.Context, grantee, cid string) error
}

// ChainReader exposes the registry's read-only views. A Mirror that
// also implements ChainReader (the real registry does) enables the
// chain-status surface.
type ChainReader interface {
	HasAccess(ctx context.Context, owner, grantee, cid string) (bool, error)
	AccessCount(ctx context.Context, cid string) (*big.Int, error)
}

// Notifier receives every appended audit entry for realtime fan-out.
type Notifier interface {
	PublishAudit(e models.AuditEntry)
}

// UploadItem is one file in a batch upload.
type UploadItem struct {
	Name     string
	Category string
	Data     []byte
}

// ProgressFunc reports sequential batch progress before each file is sent.
type ProgressFunc func(index, total int, name string)

// Service implements the record, grant, and audit operations.
type Service struct {
	store    ledger.Store
	pinner   Pinner
	mirror   Mirror      // optional
	chain    ChainReader // optional, derived from mirror
	notifier Notifier    // optional
	logger   *slog.Logger
}

// NewService creates a record service. mirror and notifier may be nil.
func NewService(store ledger.Store, pinner Pinner, mirror Mirror, notifier Notifier, logger *slog.Logger) *Service {
	s := &Service{store: store, pinner: pinner, mirror: mirror, notifier: notifier, logger: logger}
	if cr, ok := mirror.(ChainReader); ok {
		s.chain = cr
	}
	return s
}

// Upload pins a single file and records it for the owner.
func (s *Service) Upload(ctx context.Context, owner, name, category string, data []byte) (*models.Record, error) {
	rec, err := s.pinAndInsert(ctx, owner, name, category, data)
	if err != nil {
		s.audit(owner, models.ActionUpload, "File upload failed",
			map[string]string{"name": name, "error": err.Error()}, models.StatusFailed)
		return nil, err
	}
	s.audit(owner, models.ActionUpload, fmt.Sprintf("Uploaded %s", rec.Name),
		map[string]string{"name": rec.Name, "cid": rec.CID, "size": strconv.Itoa(len(data))},
		models.StatusSuccess)
	return rec, nil
}

// UploadBatch pins files strictly sequentially, in input order, so
// per-file progress can be reported. The audit trail gets one pending
// entry at the start and exactly one terminal entry, not one per file.
func (s *Service) UploadBatch(ctx context.Context, owner string, items []UploadItem, progress ProgressFunc) ([]models.Record, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("recordservice: empty batch")
	}

	s.audit(owner, models.ActionUpload,
		fmt.Sprintf("Starting batch upload of %d files...", len(items)),
		nil, models.StatusPending)

	out := make([]models.Record, 0, len(items))
	for i, item := range items {
		if progress != nil {
			progress(i, len(items), item.Name)
		}
		rec, err := s.pinAndInsert(ctx, owner, item.Name, item.Category, item.Data)
		if err != nil {
			s.audit(owner, models.ActionUpload, "Batch file upload failed",
				map[string]string{"name": item.Name, "error": err.Error()}, models.StatusFailed)
			return out, fmt.Errorf("recordservice: upload %q: %w", item.Name, err)
		}
		out = append(out, *rec)
	}

	cids := make([]string, len(out))
	for i, r := range out {
		cids[i] = r.CID
	}
	s.audit(owner, models.ActionUpload,
		fmt.Sprintf("Uploaded %d file(s)", len(out)),
		map[string]string{"count": strconv.Itoa(len(out)), "cids": strings.Join(cids, ",")},
		models.StatusSuccess)
	return out, nil
}

func (s *Service) pinAndInsert(ctx context.Context, owner, name, category string, data []byte) (*models.Record, error) {
	if category == "" {
		category = models.CategoryLabResults
	}
	if !models.ValidCategory(category) {
		return nil, fmt.Errorf("recordservice: unknown category %q", category)
	}

	cid, err := s.pinner.PinFile(ctx, name, data)
	if err != nil {
		return nil, err
	}

	rec := models.Record{
		ID:        uuid.NewString(),
		Owner:     owner,
		CID:       cid,
		Name:      name,
		Category:  category,
		Checksum:  checksum.Sum(data),
		Grantees:  []string{},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertRecord(rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Grant authorizes grantee to fetch the record's content. The grantee
// address is validated before any state is touched, and re-granting is
// idempotent at the data level (the audit trail still gets an entry).
func (s *Service) Grant(ctx context.Context, owner, recordID, grantee string) (*models.Record, error) {
	if err := models.ValidateAddress(grantee); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidGrantee, err)
	}

	added, err := s.store.AddGrant(owner, recordID, grantee)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.GetRecord(owner, recordID)
	if err != nil {
		return nil, err
	}

	details := map[string]string{"grantee": grantee, "record": rec.Name}
	if s.mirror != nil && added {
		if mirrorErr := s.mirror.GrantAccess(ctx, grantee, rec.CID); mirrorErr != nil {
			s.logger.Warn("chain mirror grant failed",
				slog.String("cid", rec.CID),
				slog.String("grantee", grantee),
				slog.String("error", mirrorErr.Error()))
			details["chain_error"] = mirrorErr.Error()
		}
	}
	s.audit(owner, models.ActionGrant, fmt.Sprintf("Granted access to %s", rec.Name), details, models.StatusSuccess)
	return rec, nil
}

// Revoke removes grantee's access. Revoking an address that was never
// granted is a no-op, not an error.
func (s *Service) Revoke(ctx context.Context, owner, recordID, grantee string) (*models.Record, error) {
	if err := s.store.RemoveGrant(owner, recordID, grantee); err != nil {
		return nil, err
	}
	rec, err := s.store.GetRecord(owner, recordID)
	if err != nil {
		return nil, err
	}

	details := map[string]string{"grantee": grantee, "record": rec.Name}
	if s.mirror != nil {
		if mirrorErr := s.mirror.RevokeAccess(ctx, grantee, rec.CID); mirrorErr != nil {
			s.logger.Warn("chain mirror revoke failed",
				slog.String("cid", rec.CID),
				slog.String("grantee", grantee),
				slog.String("error", mirrorErr.Error()))
			details["chain_error"] = mirrorErr.Error()
		}
	}
	s.audit(owner, models.ActionRevoke, fmt.Sprintf("Revoked access from %s", rec.Name), details, models.StatusSuccess)
	return rec, nil
}

// ChainStatus is a point-in-time read of the on-chain registry for one
// record and grantee.
type ChainStatus struct {
	CID     string `json:"cid"`
	Grantee string `json:"grantee"`
	Granted bool   `json:"granted"`
	Grants  uint64 `json:"grants"`
}

// ChainAccess queries the on-chain registry for a record's grant state.
// Only the record's owner or the queried grantee may ask. Returns
// apperr.ErrMirrorDisabled when no chain mirror is configured.
func (s *Service) ChainAccess(ctx context.Context, actor, owner, recordID, grantee string) (*ChainStatus, error) {
	if s.chain == nil {
		return nil, apperr.ErrMirrorDisabled
	}
	if err := models.ValidateAddress(grantee); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidGrantee, err)
	}
	rec, err := s.store.GetRecord(owner, recordID)
	if err != nil {
		return nil, err
	}
	if actor != owner && actor != grantee {
		return nil, apperr.ErrForbidden
	}

	granted, err := s.chain.HasAccess(ctx, owner, grantee, rec.CID)
	if err != nil {
		return nil, fmt.Errorf("recordservice: chain read: %w", err)
	}
	count, err := s.chain.AccessCount(ctx, rec.CID)
	if err != nil {
		return nil, fmt.Errorf("recordservice: chain read: %w", err)
	}
	return &ChainStatus{CID: rec.CID, Grantee: grantee, Granted: granted, Grants: count.Uint64()}, nil
}

// Get returns one of the owner's records.
func (s *Service) Get(_ context.Context, owner, recordID string) (*models.Record, error) {
	return s.store.GetRecord(owner, recordID)
}

// List returns the owner's records matching the filter, newest first.
func (s *Service) List(_ context.Context, owner string, f ledger.RecordFilter) ([]models.Record, error) {
	return s.store.ListRecords(owner, f)
}

// Remove deletes a record locally. The pinned content and any ledger
// views a counterparty already fetched are untouched.
func (s *Service) Remove(_ context.Context, owner, recordID string) error {
	return s.store.DeleteRecord(owner, recordID)
}

// SharedWith returns every record shared with the grantee, paired with
// the owning principal.
func (s *Service) SharedWith(_ context.Context, grantee string) ([]models.SharedRecord, error) {
	return s.store.ListAccessibleTo(grantee)
}

// Download fetches a record's content for actor. The actor must be the
// owner or hold a grant. The fetched bytes are verified against the
// checksum taken at upload time.
func (s *Service) Download(ctx context.Context, actor, owner, recordID string) ([]byte, *models.Record, error) {
	rec, err := s.store.GetRecord(owner, recordID)
	if err != nil {
		return nil, nil, err
	}
	if actor != owner && !rec.HasGrantee(actor) {
		return nil, nil, apperr.ErrForbidden
	}

	data, err := s.pinner.Fetch(ctx, rec.CID)
	if err != nil {
		s.audit(actor, models.ActionDownload, fmt.Sprintf("Download of %s failed", rec.Name),
			map[string]string{"cid": rec.CID, "error": err.Error()}, models.StatusFailed)
		return nil, nil, err
	}
	if rec.Checksum != "" && checksum.Sum(data) != rec.Checksum {
		return nil, nil, fmt.Errorf("recordservice: content integrity check failed for %s", rec.CID)
	}

	s.audit(actor, models.ActionDownload, fmt.Sprintf("Downloaded record: %s", rec.Name),
		map[string]string{"name": rec.Name, "cid": rec.CID}, models.StatusSuccess)
	return data, rec, nil
}

// RecordView appends a view entry to the actor's audit trail.
func (s *Service) RecordView(_ context.Context, actor, owner, recordID string) error {
	rec, err := s.store.GetRecord(owner, recordID)
	if err != nil {
		return err
	}
	if actor != owner && !rec.HasGrantee(actor) {
		return apperr.ErrForbidden
	}
	s.audit(actor, models.ActionView, fmt.Sprintf("Viewed record: %s", rec.Name),
		map[string]string{"name": rec.Name, "cid": rec.CID}, models.StatusSuccess)
	return nil
}

// Audit returns the actor's audit trail, most recent first.
func (s *Service) Audit(_ context.Context, actor string, limit int) ([]models.AuditEntry, error) {
	return s.store.ListAudit(actor, limit)
}

// Profile returns the principal's profile.
func (s *Service) Profile(_ context.Context, principal string) (*models.Profile, error) {
	return s.store.GetProfile(principal)
}

// SaveProfile validates and stores the principal's profile.
func (s *Service) SaveProfile(_ context.Context, p models.Profile) error {
	p.UpdatedAt = time.Now().UTC()
	if err := p.Validate(); err != nil {
		return err
	}
	return s.store.UpsertProfile(p)
}

// audit appends an entry to the actor's trail and fans it out to the
// notifier. Append failures are logged, not propagated; provenance must
// not fail the operation it describes.
func (s *Service) audit(actor, action, description string, details map[string]string, status string) {
	e := models.AuditEntry{
		ID:          uuid.NewString(),
		Actor:       actor,
		Action:      action,
		Description: description,
		Details:     details,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.AppendAudit(e); err != nil {
		s.logger.Error("audit append failed",
			slog.String("actor", actor),
			slog.String("action", action),
			slog.String("error", err.Error()))
		return
	}
	if s.notifier != nil {
		s.notifier.PublishAudit(e)
	}
}
