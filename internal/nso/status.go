// Package nso speaks the NSO RESTCONF API: connection probing, device
// listing, and per-device configuration sync checks. Two interchangeable
// clients exist (net/http and a curl subprocess); the caller picks one at
// configuration time.
package nso

import "strings"

// SyncStatus is the normalized result of a device check-sync action.
type SyncStatus string

const (
	StatusInSync    SyncStatus = "in-sync"
	StatusLocked    SyncStatus = "locked"
	StatusOutOfSync SyncStatus = "out-of-sync"
	StatusUnknown   SyncStatus = "unknown"
	StatusError     SyncStatus = "error"
)

// ParseSyncResult maps the raw RESTCONF result string onto the enum.
// Only the three documented values are recognized; anything else is
// Unknown, which counts as not-in-sync so that a garbled response
// surfaces as a problem instead of hiding one.
func ParseSyncResult(raw string) SyncStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "in-sync":
		return StatusInSync
	case "locked":
		return StatusLocked
	case "out-of-sync":
		return StatusOutOfSync
	default:
		return StatusUnknown
	}
}

// Acceptable reports whether the status counts toward the in-sync tally.
// A locked device cannot drift while locked, so it is treated as in sync.
func (s SyncStatus) Acceptable() bool {
	return s == StatusInSync || s == StatusLocked
}

// Outcome is the result of checking one device. Raw holds a bounded
// snippet of the response for troubleshooting; Err is set when the check
// itself failed rather than the device being out of sync.
type Outcome struct {
	Device string     `json:"device"`
	Status SyncStatus `json:"status"`
	Raw    string     `json:"raw,omitempty"`
	Err    string     `json:"error,omitempty"`
}
