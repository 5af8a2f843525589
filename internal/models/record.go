// Package models defines the domain types for Medvault.
package models

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Record categories offered at upload time. CategoryLabResults is the
// default when none is given.
const (
	CategoryLabResults   = "Lab Results"
	CategoryImaging      = "Imaging"
	CategoryPrescription = "Prescription"
	CategoryDiagnosis    = "Diagnosis"
	CategoryOther        = "Other"
)

// Categories lists every valid record category.
var Categories = []string{
	CategoryLabResults,
	CategoryImaging,
	CategoryPrescription,
	CategoryDiagnosis,
	CategoryOther,
}

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateAddress checks that s looks like an Ethereum address
// (0x followed by 40 hex characters).
func ValidateAddress(s string) error {
	return validation.Validate(s,
		validation.Required,
		validation.Match(addressRe).Error("must be an Ethereum address (0x...)"),
	)
}

// ValidCategory reports whether c is one of the known record categories.
func ValidCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// Record represents one uploaded artifact owned by a single principal.
// CID is the content address assigned by the pinning service and never
// changes after upload. Grantees is the set of principals currently
// allowed to fetch the content.
type Record struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	CID       string    `json:"cid"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Checksum  string    `json:"checksum"`
	Grantees  []string  `json:"grantees"`
	CreatedAt time.Time `json:"created_at"`
}

// HasGrantee reports whether addr currently holds a grant on the record.
func (r *Record) HasGrantee(addr string) bool {
	for _, g := range r.Grantees {
		if g == addr {
			return true
		}
	}
	return false
}

// SharedRecord pairs a record with its owning principal, as returned by
// the reverse-grant lookup.
type SharedRecord struct {
	Owner  string `json:"owner"`
	Record Record `json:"record"`
}

// Audit actions.
const (
	ActionUpload   = "upload"
	ActionGrant    = "grant_access"
	ActionRevoke   = "revoke_access"
	ActionDownload = "download"
	ActionView     = "view"
)

// Audit statuses.
const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// AuditEntry is one immutable row in a principal's audit trail.
type AuditEntry struct {
	ID          string            `json:"id"`
	Actor       string            `json:"actor"`
	Action      string            `json:"action"`
	Description string            `json:"description"`
	Details     map[string]string `json:"details,omitempty"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Profile roles.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// Profile holds per-principal identity details (name, speciality, and
// so on) keyed by the wallet address.
type Profile struct {
	Principal string            `json:"principal"`
	Role      string            `json:"role"`
	Details   map[string]string `json:"details,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Validate checks the profile role and principal format.
func (p *Profile) Validate() error {
	if err := ValidateAddress(p.Principal); err != nil {
		return err
	}
	return validation.Validate(p.Role,
		validation.Required,
		validation.In(RolePatient, RoleDoctor),
	)
}
