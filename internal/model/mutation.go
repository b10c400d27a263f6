package model

import (
	"encoding/json"
	"time"
)

// SyncStatus is the lifecycle state of a queued mutation.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	// SyncFailed entries keep their error message and remain visible for retry.
	SyncFailed SyncStatus = "failed"
	// SyncSuperseded marks a mutation whose conflict resolved in favor of the
	// remote copy. Terminal, like synced.
	SyncSuperseded SyncStatus = "superseded"
)

// OfflineMutation is a locally recorded create/update operation queued for
// later transmission to the authoritative remote store.
type OfflineMutation struct {
	ID      string          `gorm:"primaryKey;size:36"`
	Type    string          `gorm:"size:50;index;not null"` // entity + operation, e.g. "sale.create"
	Payload json.RawMessage `gorm:"not null"`
	// BaseTimestamp is the remote version the edit was computed against; the
	// sync step compares it with the remote record's current timestamp to
	// detect conflicts.
	BaseTimestamp time.Time  `gorm:"not null"`
	QueuedAt      time.Time  `gorm:"index;not null"`
	SyncStatus    SyncStatus `gorm:"size:12;index;not null"`
	RetryCount    int        `gorm:"not null"`
	ErrorMessage  string

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
