package model

import (
	"encoding/json"
	"time"
)

// ResolutionStrategy selects how a divergent local/remote pair is reconciled.
type ResolutionStrategy string

const (
	StrategyLastWriteWins ResolutionStrategy = "last_write_wins"
	StrategyManual        ResolutionStrategy = "manual"
	StrategyMerge         ResolutionStrategy = "merge"
)

// ConflictRecord captures a divergence between a queued mutation's assumed base
// state and the remote store's actual state at sync time. Unresolved records
// are surfaced in a review list; resolving flips the flag but keeps the row.
type ConflictRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	MutationID      string `gorm:"size:36;index;not null"`
	TableName       string `gorm:"size:50;not null"`
	RecordID        string `gorm:"size:50;not null"`
	LocalData       json.RawMessage
	RemoteData      json.RawMessage
	LocalTimestamp  time.Time          `gorm:"not null"`
	RemoteTimestamp time.Time          `gorm:"not null"`
	Strategy        ResolutionStrategy `gorm:"size:20;not null"`
	Winner          string             `gorm:"size:10"` // local or remote
	Resolved        bool               `gorm:"index;not null"`
	ResolvedAt      *time.Time
	Notes           string
	CreatedAt       time.Time `gorm:"not null"`
}
