// Package ledger provides the SQLite-backed access ledger: per-owner
// records and their grantee sets, the append-only audit trail, profiles,
// and small key/value settings.
package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is stored in PRAGMA user_version. Bump it together with
// a migration case in migrate when the shape changes.
const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	cid        TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT 'Lab Results',
	checksum   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner);

CREATE TABLE IF NOT EXISTS grants (
	record_id  TEXT NOT NULL,
	grantee    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(record_id, grantee)
);

CREATE TABLE IF NOT EXISTS audit (
	id          TEXT PRIMARY KEY,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'success',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit(actor);

CREATE TABLE IF NOT EXISTS profiles (
	principal  TEXT PRIMARY KEY,
	role       TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB wraps a sql.DB with ledger-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies migrations.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{conn: conn}, nil
}

// migrate brings the schema up to schemaVersion. Grants/records held in
// older shapes are migrated in place rather than parsed-and-hoped.
func migrate(conn *sql.DB) error {
	var v int
	if err := conn.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return fmt.Errorf("ledger: read schema version: %w", err)
	}
	if v > schemaVersion {
		return fmt.Errorf("ledger: database schema version %d is newer than supported %d", v, schemaVersion)
	}

	for ; v < schemaVersion; v++ {
		switch v {
		case 0:
			if _, err := conn.Exec(schemaV1); err != nil {
				return fmt.Errorf("ledger: apply schema v1: %w", err)
			}
		}
	}

	if _, err := conn.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("ledger: set schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
