package db

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// runDeliveryRollupOnce aggregates notification events created on the
// given day into DeliveryStat rows, one per (form, day, channel).
// Re-running for the same day overwrites with fresh totals.
func runDeliveryRollupOnce(db *gorm.DB, day string) error {
	dayStart, err := time.Parse("2006-01-02", day)
	if err != nil {
		return err
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	type agg struct {
		FormID    uint
		Channel   string
		Delivered int64
		Failed    int64
	}
	var groups []agg
	err = db.Model(&NotificationEvent{}).
		Select(`form_id, channel,
			SUM(CASE WHEN outcome = 'delivered' THEN 1 ELSE 0 END) AS delivered,
			SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END) AS failed`).
		Where("created_at >= ? AND created_at < ?", dayStart, dayEnd).
		Group("form_id, channel").
		Scan(&groups).Error
	if err != nil {
		return err
	}

	for _, g := range groups {
		var form Form
		if err := db.Unscoped().Select("owner_id").First(&form, g.FormID).Error; err != nil {
			continue
		}
		row := DeliveryStat{
			OwnerID:   form.OwnerID,
			FormID:    g.FormID,
			Day:       day,
			Channel:   g.Channel,
			Delivered: g.Delivered,
			Failed:    g.Failed,
		}
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "form_id"}, {Name: "day"}, {Name: "channel"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"delivered": row.Delivered,
				"failed":    row.Failed,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// StartDeliveryRollupWorker rolls up yesterday and today at startup,
// then refreshes today's stats every hour. Days are UTC.
func StartDeliveryRollupWorker(db *gorm.DB, log *zap.Logger) {
	go func() {
		now := time.Now().UTC()
		for _, day := range []string{DayOf(now.Add(-24 * time.Hour)), DayOf(now)} {
			if err := runDeliveryRollupOnce(db, day); err != nil {
				log.Warn("delivery rollup failed", zap.String("day", day), zap.Error(err))
			}
		}

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for t := range ticker.C {
			day := DayOf(t.UTC())
			if err := runDeliveryRollupOnce(db, day); err != nil {
				log.Warn("delivery rollup failed", zap.String("day", day), zap.Error(err))
			}
		}
	}()
}

// DeliverySeries returns per-channel rollups for one form between two
// day keys (inclusive), oldest first.
func DeliverySeries(db *gorm.DB, formID uint, fromDay, toDay string) ([]DeliveryStat, error) {
	var rows []DeliveryStat
	err := db.Where("form_id = ? AND day >= ? AND day <= ?", formID, fromDay, toDay).
		Order("day ASC").Find(&rows).Error
	return rows, err
}
