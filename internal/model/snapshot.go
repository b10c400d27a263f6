package model

import (
	"encoding/json"
	"time"
)

// Transaction types recorded in a snapshot.
const (
	TransactionSale   = "sale"
	TransactionReturn = "return"
	TransactionHold   = "hold"
)

// TransactionSnapshot is a durable copy of an in-progress transaction's working
// state. The session id is the primary key, so at most one snapshot exists per
// session: every auto-save overwrites in place. Resolving a snapshot flips its
// status but keeps the row as an audit trail.
type TransactionSnapshot struct {
	SessionID     string          `gorm:"primaryKey;size:100"`
	TerminalID    string          `gorm:"size:50;index;not null"`
	Data          json.RawMessage `gorm:"not null"`
	Type          string          `gorm:"size:20;not null"`
	CustomerID    *int64
	LastAction    string `gorm:"size:100"`
	AutoSaveCount int    `gorm:"not null"`

	Resolved      bool `gorm:"index;not null"`
	Recovered     bool `gorm:"not null"`
	RecoveryNotes string
	RecoveredAt   *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
}
