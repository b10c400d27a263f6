package model

import "time"

// PushSubscription holds a browser push subscription that receives power
// alerts (safe mode, critical battery) for this terminal.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
