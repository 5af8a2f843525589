package ledger

import "github.com/ostrander/medvault/internal/models"

// Store defines the interface for ledger operations. Consumers should
// depend on this interface rather than the concrete *DB type to
// facilitate testing with fakes.
type Store interface {
	InsertRecord(rec models.Record) error
	GetRecord(owner, id string) (*models.Record, error)
	ListRecords(owner string, f RecordFilter) ([]models.Record, error)
	DeleteRecord(owner, id string) error

	AddGrant(owner, recordID, grantee string) (bool, error)
	RemoveGrant(owner, recordID, grantee string) error
	ListAccessibleTo(grantee string) ([]models.SharedRecord, error)

	AppendAudit(e models.AuditEntry) error
	ListAudit(actor string, limit int) ([]models.AuditEntry, error)

	UpsertProfile(p models.Profile) error
	GetProfile(principal string) (*models.Profile, error)

	SetSetting(key, value string) error
	GetSetting(key string) (string, bool, error)
	DeleteSetting(key string) error

	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
