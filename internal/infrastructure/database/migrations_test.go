package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func useMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS, MigrationsDir = files, "."
}

var testMigrations = fstest.MapFS{
	"20261001_120000_create_items.up.sql":   {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY) STRICT;")},
	"20261001_120000_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
	"20261002_090000_add_index.up.sql":      {Data: []byte("CREATE INDEX idx_items_id ON items(id);")},
	"README.md":                             {Data: []byte("not a migration")},
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "items") {
		t.Fatal("table items not created")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d; want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20261001_120000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("first applied = %+v", applied[0])
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20261001_120000_create_items.up.sql":   testMigrations["20261001_120000_create_items.up.sql"],
		"20261001_120000_create_items.down.sql": testMigrations["20261001_120000_create_items.down.sql"],
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "items") {
		t.Error("table items still exists after MigrateDown")
	}
	_, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrateDown_NoDownSQL(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20261002_090000_create.up.sql": {Data: []byte("CREATE TABLE x (id INTEGER);")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() expected error without down SQL")
	}
}

func TestMigrate_FailureStopsLaterMigrations(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20261001_000001_first.up.sql":  {Data: []byte("CREATE TABLE first (id INTEGER);")},
		"20261001_000002_broken.up.sql": {Data: []byte("CREATE TABLE oops (")},
		"20261001_000003_third.up.sql":  {Data: []byte("CREATE TABLE third (id INTEGER);")},
	})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() expected error")
	}
	if !tableExists(t, db, "first") {
		t.Error("migration before the failure was rolled back")
	}
	if tableExists(t, db, "third") {
		t.Error("migration after the failure was applied")
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	origFS := MigrationsFS
	t.Cleanup(func() { MigrationsFS = origFS })
	MigrationsFS = nil

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() without migrations error = %v", err)
	}
}

func TestLoadMigrations_OrphanDown(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20261001_120000_x.down.sql": {Data: []byte("DROP TABLE x;")},
	})
	if _, err := loadMigrations(); err == nil {
		t.Error("loadMigrations() expected error for down file without up file")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOk      bool
	}{
		{"20261017_000001_device_history.up.sql", "20261017_000001", "device_history", true, true},
		{"20261017_000001_device_history.down.sql", "20261017_000001", "device_history", false, true},
		{"20261017_000001.up.sql", "20261017_000001", "20261017_000001", true, true},
		{"readme.txt", "", "", false, false},
		{"20261017_000001_device_history.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
		{"2026_01_x.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)", version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
