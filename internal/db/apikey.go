package db

import (
	"time"

	"gorm.io/datatypes"
)

// Key scope values. A "forms" scope restricts the key to the forms
// listed in FormIDs.
const (
	ScopeAll   = "all"
	ScopeForms = "forms"
)

// APIKey authenticates submitters and management API callers. Keys use
// a single scoped read/write model: capability flags plus an optional
// restriction to specific forms.
type APIKey struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	OwnerID uint `gorm:"index;not null"`

	// Name is a user-friendly identifier for this key (e.g. "website").
	Name string `gorm:"size:128;not null"`

	// Key is the actual bearer token value. Shown in full exactly once
	// at creation; everywhere else only the masked form is exposed.
	Key string `gorm:"uniqueIndex;size:255;not null"`

	CanRead  bool `gorm:"default:true"`
	CanWrite bool `gorm:"default:true"`

	// Scope is ScopeAll or ScopeForms.
	Scope   string                    `gorm:"size:16;default:all"`
	FormIDs datatypes.JSONSlice[uint] `gorm:"type:json"`

	LastUsedAt *time.Time

	Owner User `gorm:"foreignKey:OwnerID"`
}

// Masked returns the display form of the token: prefix and last four
// characters, middle never revealed.
func (k *APIKey) Masked() string {
	const prefix = 6
	const suffix = 4
	if len(k.Key) <= prefix+suffix {
		return "****"
	}
	return k.Key[:prefix] + "..." + k.Key[len(k.Key)-suffix:]
}

// AllowsForm reports whether this key may operate on the given form.
func (k *APIKey) AllowsForm(formID uint) bool {
	if k.Scope != ScopeForms {
		return true
	}
	for _, id := range k.FormIDs {
		if id == formID {
			return true
		}
	}
	return false
}
