package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the SQLite database at dbPath and migrates the schema.
func Init(dbPath string) error {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}
	return nil
}

// Migrate applies the schema to a gorm handle. Exposed for tests that use
// their own in-memory database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&TunnelEvent{}, &SyncBatch{}, &SyncResult{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// SaveBatch stores a sync batch with its per-device results.
func SaveBatch(db *gorm.DB, batch *SyncBatch) error {
	if err := db.Create(batch).Error; err != nil {
		return fmt.Errorf("save sync batch: %w", err)
	}
	return nil
}

// RecentBatches returns the latest batches for an instance, newest first,
// with per-device results preloaded.
func RecentBatches(db *gorm.DB, instanceName string, limit int) ([]SyncBatch, error) {
	if limit <= 0 {
		limit = 20
	}
	var batches []SyncBatch
	err := db.Preload("Results").
		Where("instance_name = ?", instanceName).
		Order("created_at DESC").
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("query sync batches: %w", err)
	}
	return batches, nil
}

// PruneBefore deletes tunnel events and sync batches older than the cutoff.
// Returns the number of rows removed across all tables.
func PruneBefore(db *gorm.DB, cutoff time.Time) (int64, error) {
	var removed int64

	res := db.Where("created_at < ?", cutoff).Delete(&TunnelEvent{})
	if res.Error != nil {
		return removed, fmt.Errorf("prune tunnel events: %w", res.Error)
	}
	removed += res.RowsAffected

	var stale []SyncBatch
	if err := db.Where("created_at < ?", cutoff).Find(&stale).Error; err != nil {
		return removed, fmt.Errorf("find stale batches: %w", err)
	}
	for _, b := range stale {
		if err := db.Where("batch_id = ?", b.ID).Delete(&SyncResult{}).Error; err != nil {
			return removed, fmt.Errorf("prune results for batch %s: %w", b.ID, err)
		}
	}

	res = db.Where("created_at < ?", cutoff).Delete(&SyncBatch{})
	if res.Error != nil {
		return removed, fmt.Errorf("prune sync batches: %w", res.Error)
	}
	removed += res.RowsAffected

	return removed, nil
}
