package db

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Form is one collectible endpoint owned by a user. Channel connection
// state lives directly on the row so the ingestion path can build the
// fan-out list with a single read.
type Form struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	OwnerID uint   `gorm:"index;not null"`
	Name    string `gorm:"size:128;not null"`

	// Slug is the public identifier used by the /f/{slug} endpoint.
	// Globally unique and never changed after creation.
	Slug string `gorm:"uniqueIndex;size:160;not null"`

	Description string `gorm:"size:512"`

	// AllowedDomains is an ordered allowlist of hostnames; entries may
	// carry a "*." wildcard prefix. Empty means unrestricted.
	AllowedDomains datatypes.JSONSlice[string] `gorm:"type:json"`

	EmailEnabled bool `gorm:"default:false"`

	SlackEnabled    bool   `gorm:"default:false"`
	SlackWebhookURL string `gorm:"size:512"`
	SlackChannel    string `gorm:"size:128"`

	DiscordEnabled    bool   `gorm:"default:false"`
	DiscordWebhookURL string `gorm:"size:512"`
	DiscordGuild      string `gorm:"size:128"`

	SheetsEnabled       bool   `gorm:"default:false"`
	SheetsSpreadsheetID string `gorm:"size:128"`
	SheetsAccessToken   string `gorm:"size:2048"`
	SheetsRefreshToken  string `gorm:"size:512"`
	SheetsTokenExpiry   *time.Time
}

// Submission is one payload received at a form endpoint. The payload is
// stored verbatim and never mutated; dashboard deletes are soft.
type Submission struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	FormID uint `gorm:"index;not null"`

	Payload datatypes.JSONMap `gorm:"type:json"`

	RemoteIP  string `gorm:"size:64"`
	UserAgent string `gorm:"size:512"`
}

// UsageCounter counts successful submissions per (owner, form, calendar
// day). Rows are created-or-incremented atomically; see IncrementUsage.
type UsageCounter struct {
	ID uint `gorm:"primaryKey"`

	OwnerID uint   `gorm:"uniqueIndex:idx_usage_unique,priority:1;not null"`
	FormID  uint   `gorm:"uniqueIndex:idx_usage_unique,priority:2;not null"`
	Day     string `gorm:"uniqueIndex:idx_usage_unique,priority:3;size:10;not null"` // YYYY-MM-DD (UTC)

	Count int64 `gorm:"not null;default:0"`
}

// NotificationEvent is an append-only audit record of one notification
// or sync attempt. Never mutated or deleted.
type NotificationEvent struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	FormID       uint   `gorm:"index;not null"`
	SubmissionID string `gorm:"index;size:36;not null"`

	// Channel is one of email, slack, discord, sheets.
	Channel string `gorm:"size:16;not null"`

	// Target identifies the destination: recipient address, Slack
	// channel, Discord guild, or spreadsheet id.
	Target string `gorm:"size:255"`

	// Outcome is delivered or failed.
	Outcome string `gorm:"size:16;not null"`
}

// EmailRecipient is an additional notification address for a form.
// Unverified recipients never receive mail; verification is monotonic.
type EmailRecipient struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	FormID  uint   `gorm:"uniqueIndex:idx_recipient_unique,priority:1;not null"`
	Address string `gorm:"uniqueIndex:idx_recipient_unique,priority:2;size:255;not null"`

	Enabled bool `gorm:"default:true"`

	VerificationToken string `gorm:"index;size:64"`
	TokenExpiresAt    *time.Time
	VerifiedAt        *time.Time
}

// DeliveryStat is a pre-aggregated per-day rollup of notification
// events, filled by the rollup worker and read by the stats endpoints.
type DeliveryStat struct {
	ID uint `gorm:"primaryKey"`

	OwnerID uint   `gorm:"not null"`
	FormID  uint   `gorm:"uniqueIndex:idx_delivery_stat_unique,priority:1;not null"`
	Day     string `gorm:"uniqueIndex:idx_delivery_stat_unique,priority:2;size:10;not null"`
	Channel string `gorm:"uniqueIndex:idx_delivery_stat_unique,priority:3;size:16;not null"`

	Delivered int64 `gorm:"not null"`
	Failed    int64 `gorm:"not null"`
}

const (
	ChannelEmail   = "email"
	ChannelSlack   = "slack"
	ChannelDiscord = "discord"
	ChannelSheets  = "sheets"

	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// DayOf returns the UTC calendar-day key used by usage counters.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
