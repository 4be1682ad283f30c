package audit

import (
	"testing"

	"github.com/netauto/nsosync/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRecordWritesEvent(t *testing.T) {
	db := setupTestDB(t)
	rec := NewRecorder(db)

	rec.Record("titan-e2e", EventEstablished, 8891, 1234, "forward to 10.20.0.192:8888")

	var events []database.TunnelEvent
	if err := db.Find(&events).Error; err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.InstanceName != "titan-e2e" || e.EventType != EventEstablished || e.LocalPort != 8891 || e.PID != 1234 {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestNilRecorderDropsEvents(t *testing.T) {
	var rec *Recorder

	// Must not panic.
	rec.Record("titan-e2e", EventClosed, 8891, 1234, "")
}
