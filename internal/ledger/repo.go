package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ostrander/medvault/internal/apperr"
	"github.com/ostrander/medvault/internal/models"
)

// RecordFilter narrows ListRecords results. Zero values mean "no filter".
type RecordFilter struct {
	Query    string    // substring match on name or category
	Category string    // exact category match
	From     time.Time // records created at or after
	To       time.Time // records created at or before
}

// InsertRecord stores a new record. The record ID must be unique.
func (db *DB) InsertRecord(rec models.Record) error {
	_, err := db.conn.Exec(`
		INSERT INTO records (id, owner, cid, name, category, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Owner, rec.CID, rec.Name, rec.Category, rec.Checksum, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert record: %w", err)
	}
	return nil
}

// GetRecord returns a single record with its grantee set loaded.
// Returns apperr.ErrNotFound when the owner has no such record.
func (db *DB) GetRecord(owner, id string) (*models.Record, error) {
	var rec models.Record
	err := db.conn.QueryRow(`
		SELECT id, owner, cid, name, category, checksum, created_at
		FROM records WHERE owner = ? AND id = ?
	`, owner, id).Scan(&rec.ID, &rec.Owner, &rec.CID, &rec.Name, &rec.Category, &rec.Checksum, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get record: %w", err)
	}

	grantees, err := db.grantees(rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Grantees = grantees
	return &rec, nil
}

func (db *DB) grantees(recordID string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT grantee FROM grants WHERE record_id = ? ORDER BY created_at`, recordID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load grantees: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListRecords returns the owner's records matching the filter, newest first.
func (db *DB) ListRecords(owner string, f RecordFilter) ([]models.Record, error) {
	q := `
		SELECT id, owner, cid, name, category, checksum, created_at
		FROM records WHERE owner = ?`
	args := []any{owner}

	if f.Query != "" {
		q += ` AND (name LIKE ? OR category LIKE ?)`
		like := "%" + f.Query + "%"
		args = append(args, like, like)
	}
	if f.Category != "" {
		q += ` AND category = ?`
		args = append(args, f.Category)
	}
	if !f.From.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		q += ` AND created_at <= ?`
		args = append(args, f.To)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list records: %w", err)
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.CID, &rec.Name, &rec.Category, &rec.Checksum, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		grantees, err := db.grantees(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Grantees = grantees
	}
	return out, nil
}

// DeleteRecord removes a record and its grants. Local removal only; the
// pinned content and any copies already fetched by grantees are untouched.
func (db *DB) DeleteRecord(owner, id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`DELETE FROM records WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("ledger: delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM grants WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("ledger: delete grants: %w", err)
	}

	return tx.Commit()
}

// AddGrant adds grantee to the record's grantee set. It reports whether
// a new grant was actually inserted; granting an already-granted
// principal is a no-op with added=false.
func (db *DB) AddGrant(owner, recordID, grantee string) (bool, error) {
	if _, err := db.GetRecord(owner, recordID); err != nil {
		return false, err
	}
	res, err := db.conn.Exec(`
		INSERT OR IGNORE INTO grants (record_id, grantee, created_at)
		VALUES (?, ?, ?)
	`, recordID, grantee, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("ledger: add grant: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveGrant removes grantee from the record's grantee set. Revoking a
// principal that was never granted is a no-op, not an error.
func (db *DB) RemoveGrant(owner, recordID, grantee string) error {
	if _, err := db.GetRecord(owner, recordID); err != nil {
		return err
	}
	if _, err := db.conn.Exec(`DELETE FROM grants WHERE record_id = ? AND grantee = ?`, recordID, grantee); err != nil {
		return fmt.Errorf("ledger: remove grant: %w", err)
	}
	return nil
}

// ListAccessibleTo scans every owner's records and returns those whose
// grantee set contains the given principal. The ledger keeps no reverse
// index; this is a full scan and a known scalability limit.
func (db *DB) ListAccessibleTo(grantee string) ([]models.SharedRecord, error) {
	rows, err := db.conn.Query(`
		SELECT r.id, r.owner, r.cid, r.name, r.category, r.checksum, r.created_at
		FROM records r
		JOIN grants g ON g.record_id = r.id
		WHERE g.grantee = ?
		ORDER BY r.created_at DESC
	`, grantee)
	if err != nil {
		return nil, fmt.Errorf("ledger: list accessible: %w", err)
	}
	defer rows.Close()

	out := []models.SharedRecord{}
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.CID, &rec.Name, &rec.Category, &rec.Checksum, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, models.SharedRecord{Owner: rec.Owner, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		grantees, err := db.grantees(out[i].Record.ID)
		if err != nil {
			return nil, err
		}
		out[i].Record.Grantees = grantees
	}
	return out, nil
}
