package db

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// FindOrCreateForm resolves a form by (owner, name), creating it on
// first submission. A soft-deleted form with that name rejects the
// submission rather than spawning a replacement. Concurrent first
// submissions for the same name race on the partial unique index; the
// loser re-reads the winner's row, so exactly one active form survives.
func FindOrCreateForm(db *gorm.DB, ownerID uint, name string) (*Form, error) {
	form, err := findFormByOwnerName(db, ownerID, name)
	if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) {
		return form, err
	}

	created := &Form{
		OwnerID: ownerID,
		Name:    name,
		Slug:    newSlug(name),
	}
	if err := db.Create(created).Error; err != nil {
		// Unique violation on (owner, name) or slug: someone else won
		// the race. Re-read their row.
		form, lookupErr := findFormByOwnerName(db, ownerID, name)
		if lookupErr == nil {
			return form, nil
		}
		return nil, err
	}
	return created, nil
}

// FindFormBySlug resolves a form by its public slug. No auto-create.
func FindFormBySlug(db *gorm.DB, s string) (*Form, error) {
	var form Form
	err := db.Unscoped().Where("slug = ?", s).First(&form).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if form.DeletedAt.Valid {
		return nil, ErrDeleted
	}
	return &form, nil
}

// FindOwnedForm resolves a form by slug and verifies ownership, for
// management API calls. Soft-deleted forms are reported as not found.
func FindOwnedForm(db *gorm.DB, ownerID uint, s string) (*Form, error) {
	var form Form
	err := db.Where("slug = ? AND owner_id = ?", s, ownerID).First(&form).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &form, nil
}

func findFormByOwnerName(db *gorm.DB, ownerID uint, name string) (*Form, error) {
	var form Form
	err := db.Unscoped().Where("owner_id = ? AND name = ?", ownerID, name).
		Order("deleted_at IS NOT NULL"). // prefer the active row
		First(&form).Error
	if err != nil {
		return nil, err
	}
	if form.DeletedAt.Valid {
		return nil, ErrDeleted
	}
	return &form, nil
}

// newSlug derives a unique public slug from the form name. A short
// random suffix keeps slugs from colliding across owners without
// leaking the owner id.
func newSlug(name string) string {
	base := slug.Make(name)
	if base == "" {
		base = "form"
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}
