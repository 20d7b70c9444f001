package handlers

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "formsink/internal/db"
	"formsink/internal/http/respond"
)

// OwnerMetricsHandler exposes Prometheus metrics filtered to the forms
// the presented key's owner controls, so tenants can scrape their own
// submission counters without seeing anyone else's.
func OwnerMetricsHandler(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		token := string(ctx.QueryArgs().Peek("api-key"))
		if token == "" {
			respond.Error(ctx, fasthttp.StatusUnauthorized, respond.CodeUnauthenticated, "missing api-key query parameter")
			return
		}

		var key dbpkg.APIKey
		if err := db.Where("key = ?", token).First(&key).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				respond.Error(ctx, fasthttp.StatusUnauthorized, respond.CodeUnauthenticated, "invalid API key")
				return
			}
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}

		var slugs []string
		if err := db.Model(&dbpkg.Form{}).Where("owner_id = ?", key.OwnerID).Pluck("slug", &slugs).Error; err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}
		owned := make(map[string]bool, len(slugs))
		for _, s := range slugs {
			owned[s] = true
		}

		metricFamilies, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to gather metrics")
			return
		}

		filtered := make([]*dto.MetricFamily, 0, len(metricFamilies))
		for _, mf := range metricFamilies {
			hasFormLabel := false
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "form" {
						hasFormLabel = true
						break
					}
				}
				if hasFormLabel {
					break
				}
			}

			// Families without a form label carry no tenant data.
			if !hasFormLabel {
				continue
			}

			var kept []*dto.Metric
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "form" && owned[l.GetValue()] {
						kept = append(kept, m)
						break
					}
				}
			}
			if len(kept) == 0 {
				continue
			}

			filtered = append(filtered, &dto.MetricFamily{
				Name:   mf.Name,
				Help:   mf.Help,
				Type:   mf.Type,
				Metric: kept,
			})
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range filtered {
			if err := encoder.Encode(mf); err != nil {
				respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(expfmt.FmtText))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}
