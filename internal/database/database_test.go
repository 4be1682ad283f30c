package database

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSaveAndLoadBatch(t *testing.T) {
	db := setupTestDB(t)

	batch := &SyncBatch{
		ID:           "6c0f2f6e-0000-0000-0000-000000000001",
		InstanceName: "titan-e2e",
		Total:        3,
		InSync:       2,
		OutOfSync:    1,
		ElapsedMs:    1250,
		Results: []SyncResult{
			{Device: "ce-router-1", Status: "in-sync"},
			{Device: "ce-router-2", Status: "locked"},
			{Device: "pe-router-1", Status: "out-of-sync"},
		},
	}
	if err := SaveBatch(db, batch); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	batches, err := RecentBatches(db, "titan-e2e", 10)
	if err != nil {
		t.Fatalf("RecentBatches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if got := len(batches[0].Results); got != 3 {
		t.Errorf("got %d results, want 3", got)
	}
	if batches[0].InSync != 2 || batches[0].OutOfSync != 1 {
		t.Errorf("counts = %d/%d, want 2/1", batches[0].InSync, batches[0].OutOfSync)
	}
}

func TestRecentBatchesScopedToInstance(t *testing.T) {
	db := setupTestDB(t)

	for i, name := range []string{"a", "b", "a"} {
		batch := &SyncBatch{
			ID:           "6c0f2f6e-0000-0000-0000-00000000000" + string(rune('1'+i)),
			InstanceName: name,
			Total:        1,
			InSync:       1,
		}
		if err := SaveBatch(db, batch); err != nil {
			t.Fatalf("SaveBatch: %v", err)
		}
	}

	batches, err := RecentBatches(db, "a", 10)
	if err != nil {
		t.Fatalf("RecentBatches: %v", err)
	}
	if len(batches) != 2 {
		t.Errorf("got %d batches for instance a, want 2", len(batches))
	}
}

func TestPruneBefore(t *testing.T) {
	db := setupTestDB(t)

	old := TunnelEvent{InstanceName: "a", EventType: "established", LocalPort: 9001}
	if err := db.Create(&old).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	// Backdate the row past the retention window.
	if err := db.Model(&TunnelEvent{}).Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	fresh := TunnelEvent{InstanceName: "a", EventType: "closed", LocalPort: 9001}
	if err := db.Create(&fresh).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}

	removed, err := PruneBefore(db, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	var count int64
	db.Model(&TunnelEvent{}).Count(&count)
	if count != 1 {
		t.Errorf("remaining events = %d, want 1", count)
	}
}
