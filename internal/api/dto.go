package api

import (
	"github.com/ostrander/medvault/internal/models"
)

// GrantRequest is the request body for granting access to a record.
type GrantRequest struct {
	Grantee string `json:"grantee" example:"0xAbC...0123" validate:"required"`
}

// SessionResponse describes the connected wallet identity.
type SessionResponse struct {
	Address string `json:"address" example:"0xAbC...0123" validate:"required"`
	Network string `json:"network" example:"0xaa36a7" validate:"required"`
}

// RecordListResponse wraps record listings.
type RecordListResponse struct {
	Records []models.Record `json:"records" validate:"required"`
	Total   int             `json:"total" example:"12" validate:"required"`
}

// SharedListResponse wraps records shared with the caller by other owners.
type SharedListResponse struct {
	Records []models.SharedRecord `json:"records" validate:"required"`
	Total   int                   `json:"total" example:"3" validate:"required"`
}

// AuditResponse wraps the caller's audit trail.
type AuditResponse struct {
	Entries []models.AuditEntry `json:"entries" validate:"required"`
}

// UploadResponse is returned after a batch upload.
type UploadResponse struct {
	Records []models.Record `json:"records" validate:"required"`
}
