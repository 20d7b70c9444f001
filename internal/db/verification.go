package db

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runVerificationSweepOnce clears lapsed verification tokens so the
// address moves from pending to expired and a new invite can be issued.
func runVerificationSweepOnce(db *gorm.DB) error {
	now := time.Now()
	return db.Model(&EmailRecipient{}).
		Where("verified_at IS NULL AND token_expires_at IS NOT NULL AND token_expires_at <= ?", now).
		Updates(map[string]interface{}{
			"verification_token": "",
			"token_expires_at":   nil,
		}).Error
}

// StartVerificationSweeper launches a background goroutine that expires
// lapsed recipient verification tokens once at startup and then hourly.
func StartVerificationSweeper(db *gorm.DB, log *zap.Logger) {
	go func() {
		if err := runVerificationSweepOnce(db); err != nil {
			log.Warn("verification sweep failed", zap.Error(err))
		}

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			if err := runVerificationSweepOnce(db); err != nil {
				log.Warn("verification sweep failed", zap.Error(err))
			}
		}
	}()
}
