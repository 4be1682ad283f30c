package database

import "time"

// TunnelEvent is one audit record of a tunnel lifecycle transition.
type TunnelEvent struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	InstanceName string    `gorm:"not null;index" json:"instance_name"`
	EventType    string    `gorm:"not null;index" json:"event_type"`
	LocalPort    int       `json:"local_port"`
	PID          int       `json:"pid"`
	Details      string    `json:"details"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// SyncBatch is the stored summary of one device-sync run.
type SyncBatch struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"` // UUID
	InstanceName string    `gorm:"not null;index" json:"instance_name"`
	Total        int       `gorm:"not null" json:"total"`
	InSync       int       `gorm:"not null" json:"in_sync"`
	OutOfSync    int       `gorm:"not null" json:"out_of_sync"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	Results []SyncResult `gorm:"foreignKey:BatchID" json:"results,omitempty"`
}

// SyncResult is one device's outcome within a batch.
type SyncResult struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchID  string `gorm:"not null;index;size:36" json:"batch_id"`
	Device   string `gorm:"not null" json:"device"`
	Status   string `gorm:"not null" json:"status"`
	ErrorMsg string `json:"error,omitempty"`
}
