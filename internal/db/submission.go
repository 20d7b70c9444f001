package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateSubmission persists one submission payload verbatim, then bumps
// the owner's usage counter for today. The counter increment is
// at-least-once relative to the insert but uses an atomic upsert, so it
// never double counts beyond the number of successful inserts.
func CreateSubmission(db *gorm.DB, form *Form, payload map[string]any, remoteIP, userAgent string) (*Submission, error) {
	sub := &Submission{
		ID:        uuid.NewString(),
		FormID:    form.ID,
		Payload:   datatypes.JSONMap(payload),
		RemoteIP:  remoteIP,
		UserAgent: userAgent,
	}
	if err := db.Create(sub).Error; err != nil {
		return nil, err
	}

	if err := IncrementUsage(db, form.OwnerID, form.ID, DayOf(time.Now())); err != nil {
		// The submission is durable; a lost counter update only skews
		// the usage display. Surface to the caller for logging.
		return sub, err
	}
	return sub, nil
}

// FindSubmission fetches a submission by id, scoped to forms the given
// owner controls.
func FindSubmission(db *gorm.DB, ownerID uint, id string) (*Submission, error) {
	var sub Submission
	err := db.Joins("JOIN forms ON forms.id = submissions.form_id").
		Where("submissions.id = ? AND forms.owner_id = ?", id, ownerID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
