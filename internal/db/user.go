package db

import (
	"time"
)

// User is a form owner. Accounts are managed by the dashboard (out of
// scope here); the ingestion path only reads them as the owner of forms
// and API keys. The bootstrap admin (from env) is created on startup.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	// Email receives submission notifications for every form the user
	// owns with email notifications enabled.
	Email string `gorm:"size:255"`

	IsAdmin bool `gorm:"default:false"`
}
