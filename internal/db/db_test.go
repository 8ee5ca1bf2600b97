package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewDBCreatesSchema(t *testing.T) {
	db := newTestDB(t)

	// All four stores must exist after migration.
	for _, table := range []string{"events", "analytics_samples", "known_faces", "incidents"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("fresh database reported dirty")
	}

	latest, err := GetLatestMigrationVersion()
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}
	if version != latest {
		t.Errorf("expected version %d after NewDB, got %d", latest, version)
	}
}

func TestNewDBReopenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db1, err := NewDB(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	ev := testEvent("ev-persist", storeBase)
	if err := db1.PersistEvent(context.Background(), ev); err != nil {
		t.Fatalf("PersistEvent failed: %v", err)
	}
	db1.Close()

	// Second open re-runs migrations as a no-op and sees old data.
	db2, err := NewDB(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db2.Close()

	got, err := db2.EventByID(context.Background(), "ev-persist")
	if err != nil {
		t.Fatalf("EventByID after reopen failed: %v", err)
	}
	if got.ID != "ev-persist" {
		t.Errorf("expected persisted event, got %+v", got)
	}
}

func TestDBPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("expected path %s, got %s", path, db.Path())
	}
}

func TestGetDatabaseStats(t *testing.T) {
	db := newTestDB(t)

	if err := db.PersistEvent(context.Background(), testEvent("ev-stats", storeBase)); err != nil {
		t.Fatalf("PersistEvent failed: %v", err)
	}

	stats, err := db.GetDatabaseStats()
	if err != nil {
		t.Fatalf("GetDatabaseStats failed: %v", err)
	}

	if stats.TotalSizeMB <= 0 {
		t.Error("expected positive total size")
	}
	if len(stats.Tables) == 0 {
		t.Fatal("expected at least one table in stats")
	}

	var events *TableStats
	for i := range stats.Tables {
		if stats.Tables[i].Name == "events" {
			events = &stats.Tables[i]
			break
		}
	}
	if events == nil {
		t.Fatal("expected events table in stats")
	}
	if events.RowCount != 1 {
		t.Errorf("expected 1 event row, got %d", events.RowCount)
	}
}
