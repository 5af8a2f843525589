package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ostrander/medvault/internal/apperr"
	"github.com/ostrander/medvault/internal/models"
)

// AppendAudit appends an entry to the actor's audit trail. Entries are
// immutable once written.
func (db *DB) AppendAudit(e models.AuditEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	detailsJSON, _ := json.Marshal(details)

	_, err := db.conn.Exec(`
		INSERT INTO audit (id, actor, action, description, details, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Actor, e.Action, e.Description, string(detailsJSON), e.Status, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: append audit: %w", err)
	}
	return nil
}

// ListAudit returns the actor's audit entries, most recent first.
// limit <= 0 means no limit.
func (db *DB) ListAudit(actor string, limit int) ([]models.AuditEntry, error) {
	q := `
		SELECT id, actor, action, description, details, status, created_at
		FROM audit WHERE actor = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{actor}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list audit: %w", err)
	}
	defer rows.Close()

	out := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var detailsJSON string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Description, &detailsJSON, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		// Unparseable details degrade to absent rather than failing the listing.
		if err := json.Unmarshal([]byte(detailsJSON), &e.Details); err != nil {
			e.Details = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertProfile inserts or replaces a principal's profile.
func (db *DB) UpsertProfile(p models.Profile) error {
	details := p.Details
	if details == nil {
		details = map[string]string{}
	}
	detailsJSON, _ := json.Marshal(details)

	_, err := db.conn.Exec(`
		INSERT INTO profiles (principal, role, details, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(principal) DO UPDATE SET
			role       = excluded.role,
			details    = excluded.details,
			updated_at = excluded.updated_at
	`, p.Principal, p.Role, string(detailsJSON), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: upsert profile: %w", err)
	}
	return nil
}

// GetProfile returns a principal's profile or apperr.ErrNotFound.
func (db *DB) GetProfile(principal string) (*models.Profile, error) {
	var p models.Profile
	var detailsJSON string
	err := db.conn.QueryRow(`
		SELECT principal, role, details, updated_at FROM profiles WHERE principal = ?
	`, principal).Scan(&p.Principal, &p.Role, &detailsJSON, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get profile: %w", err)
	}
	if err := json.Unmarshal([]byte(detailsJSON), &p.Details); err != nil {
		p.Details = nil
	}
	return &p, nil
}

// SetSetting stores a key/value setting, replacing any existing value.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("ledger: set setting: %w", err)
	}
	return nil
}

// GetSetting returns a setting value and whether it exists.
func (db *DB) GetSetting(key string) (string, bool, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger: get setting: %w", err)
	}
	return v, true, nil
}

// DeleteSetting removes a setting if present.
func (db *DB) DeleteSetting(key string) error {
	if _, err := db.conn.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("ledger: delete setting: %w", err)
	}
	return nil
}
