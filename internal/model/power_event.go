package model

import "time"

// PowerEvent is an audit log entry for a UPS status transition or safe mode
// change on a terminal.
type PowerEvent struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	TerminalID       string `gorm:"size:50;index;not null"`
	EventType        string `gorm:"size:40;index;not null"`
	Status           string `gorm:"size:20;not null"`
	BatteryLevel     int    `gorm:"not null"`
	EstimatedRuntime int    `gorm:"not null"` // minutes
	Voltage          float64
	UPSModel         string `gorm:"size:100"`
	Notes            string
	CreatedAt        time.Time `gorm:"index;not null"`
}
