// Package audit records tunnel lifecycle transitions to the database and
// the standard logger, so an operator can reconstruct what the tunnel
// manager did to a port after the fact.
package audit

import (
	"log"

	"github.com/netauto/nsosync/internal/database"
	"github.com/netauto/nsosync/internal/logutil"
	"gorm.io/gorm"
)

// Event types for tunnel audit records.
const (
	EventEstablished = "established"
	EventClosed      = "closed"
	EventReclaimed   = "port_reclaimed"
	EventSwept       = "stale_swept"
	EventFailed      = "establish_failed"
	EventDirect      = "direct_access"
)

// Recorder writes tunnel events. A nil Recorder is valid and drops all
// events, which keeps the tunnel manager usable in tests without a DB.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a Recorder writing to the given database.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record stores one tunnel event. Failures are logged, never propagated:
// audit trouble must not block tunnel operations.
func (r *Recorder) Record(instance, eventType string, localPort, pid int, details string) {
	log.Printf("[tunnel-audit] %s instance=%s port=%d pid=%d %s",
		eventType,
		logutil.SanitizeForLog(instance),
		localPort,
		pid,
		logutil.SanitizeForLog(details),
	)

	if r == nil || r.db == nil {
		return
	}

	event := database.TunnelEvent{
		InstanceName: instance,
		EventType:    eventType,
		LocalPort:    localPort,
		PID:          pid,
		Details:      details,
	}
	if err := r.db.Create(&event).Error; err != nil {
		log.Printf("[tunnel-audit] failed to write event: %v", err)
	}
}
