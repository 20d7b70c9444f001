package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IncrementUsage adds one to the (owner, form, day) usage counter,
// creating the row on first use. The increment happens inside the
// upsert (`count = count + 1` on conflict), never as read-modify-write,
// so concurrent submissions within the same day cannot lose updates.
func IncrementUsage(db *gorm.DB, ownerID, formID uint, day string) error {
	row := UsageCounter{
		OwnerID: ownerID,
		FormID:  formID,
		Day:     day,
		Count:   1,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "form_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count": gorm.Expr("usage_counters.count + 1"),
		}),
	}).Create(&row).Error
}

// UsageSeries returns the daily counters for one form between two day
// keys (inclusive), oldest first.
func UsageSeries(db *gorm.DB, formID uint, fromDay, toDay string) ([]UsageCounter, error) {
	var rows []UsageCounter
	err := db.Where("form_id = ? AND day >= ? AND day <= ?", formID, fromDay, toDay).
		Order("day ASC").Find(&rows).Error
	return rows, err
}

// TotalUsage sums all counters for the owner, optionally restricted to
// one form (formID 0 means all forms).
func TotalUsage(db *gorm.DB, ownerID uint, formID uint) (int64, error) {
	q := db.Model(&UsageCounter{}).Where("owner_id = ?", ownerID)
	if formID != 0 {
		q = q.Where("form_id = ?", formID)
	}
	var total int64
	err := q.Select("COALESCE(SUM(count), 0)").Scan(&total).Error
	return total, err
}
