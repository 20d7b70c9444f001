package db

import (
	"gorm.io/gorm"
)

// RecordEvent appends one notification/sync attempt to the audit log.
// Callers treat failures as log-only; a lost audit row must never fail
// a send that already happened.
func RecordEvent(db *gorm.DB, formID uint, submissionID, channel, target, outcome string) error {
	ev := NotificationEvent{
		FormID:       formID,
		SubmissionID: submissionID,
		Channel:      channel,
		Target:       target,
		Outcome:      outcome,
	}
	return db.Create(&ev).Error
}
