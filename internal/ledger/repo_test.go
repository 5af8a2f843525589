package ledger

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ostrander/medvault/internal/apperr"
	"github.com/ostrander/medvault/internal/models"
)

const (
	ownerA  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	ownerB  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	doctorC = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "medvault-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertRecord(t *testing.T, db *DB, owner, name string) models.Record {
	t.Helper()
	rec := models.Record{
		ID:        uuid.NewString(),
		Owner:     owner,
		CID:       "Qm" + uuid.NewString()[:8],
		Name:      name,
		Category:  models.CategoryLabResults,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertRecord(rec); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	return rec
}

func TestInsertAndGetRecord(t *testing.T) {
	db := testDB(t)
	rec := insertRecord(t, db, ownerA, "scan.pdf")

	got, err := db.GetRecord(ownerA, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Name != "scan.pdf" || got.CID != rec.CID {
		t.Errorf("got = %+v", got)
	}
	if len(got.Grantees) != 0 {
		t.Errorf("new record has grantees: %v", got.Grantees)
	}
}

func TestGetRecordWrongOwner(t *testing.T) {
	db := testDB(t)
	rec := insertRecord(t, db, ownerA, "scan.pdf")

	if _, err := db.GetRecord(ownerB, rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGrantIsIdempotent(t *testing.T) {
	db := testDB(t)
	rec := insertRecord(t, db, ownerA, "scan.pdf")

	added, err := db.AddGrant(ownerA, rec.ID, doctorC)
	if err != nil || !added {
		t.Fatalf("first AddGrant: added=%v err=%v", added, err)
	}
	added, err = db.AddGrant(ownerA, rec.ID, doctorC)
	if err != nil {
		t.Fatalf("second AddGrant: %v", err)
	}
	if added {
		t.Error("second grant reported added=true")
	}

	got, err := db.GetRecord(ownerA, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Grantees) != 1 || got.Grantees[0] != doctorC {
		t.Errorf("grantees = %v", got.Grantees)
	}
}

func TestRevokeAbsentGrantIsNoop(t *testing.T) {
	db := testDB(t)
	rec := insertRecord(t, db, ownerA, "scan.pdf")

	if err := db.RemoveGrant(ownerA, rec.ID, doctorC); err != nil {
		t.Errorf("RemoveGrant on absent grant: %v", err)
	}
}

func TestListAccessibleTo(t *testing.T) {
	db := testDB(t)
	recA := insertRecord(t, db, ownerA, "a.pdf")
	recB := insertRecord(t, db, ownerB, "b.pdf")
	insertRecord(t, db, ownerA, "private.pdf")

	if _, err := db.AddGrant(ownerA, recA.ID, doctorC); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddGrant(ownerB, recB.ID, doctorC); err != nil {
		t.Fatal(err)
	}

	shared, err := db.ListAccessibleTo(doctorC)
	if err != nil {
		t.Fatalf("ListAccessibleTo: %v", err)
	}
	if len(shared) != 2 {
		t.Fatalf("len = %d, want 2", len(shared))
	}
	owners := map[string]bool{}
	for _, s := range shared {
		owners[s.Owner] = true
		if !s.Record.HasGrantee(doctorC) {
			t.Errorf("record %s missing grantee", s.Record.ID)
		}
	}
	if !owners[ownerA] || !owners[ownerB] {
		t.Errorf("owners = %v", owners)
	}

	// Revoke removes the record from the grantee's view.
	if err := db.RemoveGrant(ownerA, recA.ID, doctorC); err != nil {
		t.Fatal(err)
	}
	shared, err = db.ListAccessibleTo(doctorC)
	if err != nil {
		t.Fatal(err)
	}
	if len(shared) != 1 || shared[0].Owner != ownerB {
		t.Errorf("after revoke: %+v", shared)
	}
}

func TestDeleteRecordCascadesGrants(t *testing.T) {
	db := testDB(t)
	rec := insertRecord(t, db, ownerA, "scan.pdf")
	if _, err := db.AddGrant(ownerA, rec.ID, doctorC); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteRecord(ownerA, rec.ID); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, err := db.GetRecord(ownerA, rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("record still present: %v", err)
	}
	shared, err := db.ListAccessibleTo(doctorC)
	if err != nil {
		t.Fatal(err)
	}
	if len(shared) != 0 {
		t.Errorf("grants survived delete: %+v", shared)
	}

	if err := db.DeleteRecord(ownerA, rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListRecordsFilters(t *testing.T) {
	db := testDB(t)

	old := models.Record{
		ID: uuid.NewString(), Owner: ownerA, CID: "QmOld",
		Name: "blood panel", Category: models.CategoryLabResults,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	if err := db.InsertRecord(old); err != nil {
		t.Fatal(err)
	}
	recent := models.Record{
		ID: uuid.NewString(), Owner: ownerA, CID: "QmNew",
		Name: "chest x-ray", Category: models.CategoryImaging,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertRecord(recent); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListRecords(ownerA, RecordFilter{Query: "x-ray"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Errorf("query filter: %+v", got)
	}

	got, err = db.ListRecords(ownerA, RecordFilter{Category: models.CategoryLabResults})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != old.ID {
		t.Errorf("category filter: %+v", got)
	}

	got, err = db.ListRecords(ownerA, RecordFilter{From: time.Now().UTC().Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Errorf("date filter: %+v", got)
	}

	// Newest first.
	got, err = db.ListRecords(ownerA, RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != recent.ID {
		t.Errorf("ordering: %+v", got)
	}
}

func TestSchemaVersionGuard(t *testing.T) {
	f, err := os.CreateTemp("", "medvault-ver-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec(`PRAGMA user_version = 99`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := Open(f.Name()); err == nil {
		t.Error("expected error opening database with future schema version")
	}
}
