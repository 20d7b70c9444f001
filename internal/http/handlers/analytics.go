package handlers

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "formsink/internal/db"
	"formsink/internal/http/respond"
)

func statsWindow(ctx *fasthttp.RequestCtx) (fromDay, toDay string) {
	days := 30
	if v, err := strconv.Atoi(string(ctx.QueryArgs().Peek("days"))); err == nil && v > 0 && v <= 365 {
		days = v
	}
	now := time.Now().UTC()
	return dbpkg.DayOf(now.AddDate(0, 0, -(days - 1))), dbpkg.DayOf(now)
}

// FormStats returns the daily submission counts and per-channel
// delivery rollups for one form.
func FormStats(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}
		form, ok := MustOwnedForm(ctx, db, key)
		if !ok {
			return
		}

		fromDay, toDay := statsWindow(ctx)

		usage, err := dbpkg.UsageSeries(db, form.ID, fromDay, toDay)
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}
		deliveries, err := dbpkg.DeliverySeries(db, form.ID, fromDay, toDay)
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}
		total, err := dbpkg.TotalUsage(db, key.OwnerID, form.ID)
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}

		type dayCount struct {
			Day   string `json:"day"`
			Count int64  `json:"count"`
		}
		series := make([]dayCount, 0, len(usage))
		for _, u := range usage {
			series = append(series, dayCount{Day: u.Day, Count: u.Count})
		}

		type delivery struct {
			Day       string `json:"day"`
			Channel   string `json:"channel"`
			Delivered int64  `json:"delivered"`
			Failed    int64  `json:"failed"`
		}
		deliverySeries := make([]delivery, 0, len(deliveries))
		for _, d := range deliveries {
			deliverySeries = append(deliverySeries, delivery{
				Day: d.Day, Channel: d.Channel, Delivered: d.Delivered, Failed: d.Failed,
			})
		}

		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{
			"success":    true,
			"total":      total,
			"usage":      series,
			"deliveries": deliverySeries,
		})
	}
}

// GlobalStats returns the owner's total submission count and per-form
// totals.
func GlobalStats(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}

		total, err := dbpkg.TotalUsage(db, key.OwnerID, 0)
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}

		type formTotal struct {
			Slug  string `json:"slug"`
			Name  string `json:"name"`
			Count int64  `json:"count"`
		}
		var totals []formTotal
		err = db.Model(&dbpkg.UsageCounter{}).
			Select("forms.slug AS slug, forms.name AS name, COALESCE(SUM(usage_counters.count), 0) AS count").
			Joins("JOIN forms ON forms.id = usage_counters.form_id AND forms.deleted_at IS NULL").
			Where("usage_counters.owner_id = ?", key.OwnerID).
			Group("forms.slug, forms.name").
			Order("count DESC").
			Scan(&totals).Error
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}
		if totals == nil {
			totals = []formTotal{}
		}

		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{
			"success": true,
			"total":   total,
			"forms":   totals,
		})
	}
}
