package handlers

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"formsink/internal/allowlist"
	"formsink/internal/config"
	dbpkg "formsink/internal/db"
	"formsink/internal/http/respond"
	"formsink/internal/notify"
)

var submissionsTotal *prometheus.CounterVec

// InitPrometheusMetrics registers the ingestion counters. Call once at startup.
func InitPrometheusMetrics() {
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formsink",
			Name:      "submissions_total",
			Help:      "Total accepted submissions per form.",
		},
		[]string{"form"},
	)
	prometheus.MustRegister(submissionsTotal)
}

type collectRequest struct {
	Form   string         `json:"form"`
	Bucket string         `json:"bucket"`
	Data   map[string]any `json:"data"`
}

// CollectHandler is the public ingestion endpoint: resolves the target
// form by name for the key's owner, auto-creating it on first write.
func CollectHandler(db *gorm.DB, cfg *config.Config, dispatcher *notify.Dispatcher, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}

		name, data, err := parseCollectBody(ctx)
		if err != nil {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, err.Error())
			return
		}
		if name == "" {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "missing form or bucket name")
			return
		}
		if len(data) == 0 {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "missing submission data")
			return
		}

		form, err := dbpkg.FindOrCreateForm(db, key.OwnerID, name)
		if err == dbpkg.ErrDeleted {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "form has been deleted")
			return
		}
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to resolve form", err.Error())
			return
		}
		if !key.AllowsForm(form.ID) {
			respond.Error(ctx, fasthttp.StatusForbidden, respond.CodeForbidden, "key does not cover this form")
			return
		}

		acceptSubmission(ctx, db, cfg, dispatcher, log, form, data)
	}
}

// CollectBySlugHandler ingests via the public slug. No auto-create:
// unknown slugs are 404.
func CollectBySlugHandler(db *gorm.DB, cfg *config.Config, dispatcher *notify.Dispatcher, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}

		slug, _ := ctx.UserValue("slug").(string)
		form, err := dbpkg.FindFormBySlug(db, slug)
		if err == dbpkg.ErrNotFound {
			respond.Error(ctx, fasthttp.StatusNotFound, respond.CodeNotFound, "form not found")
			return
		}
		if err == dbpkg.ErrDeleted {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "form has been deleted")
			return
		}
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to resolve form", err.Error())
			return
		}
		if form.OwnerID != key.OwnerID || !key.AllowsForm(form.ID) {
			respond.Error(ctx, fasthttp.StatusForbidden, respond.CodeForbidden, "key does not cover this form")
			return
		}

		_, data, err := parseCollectBody(ctx)
		if err != nil {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, err.Error())
			return
		}
		if len(data) == 0 {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "missing submission data")
			return
		}

		acceptSubmission(ctx, db, cfg, dispatcher, log, form, data)
	}
}

// acceptSubmission runs the shared tail of both collect variants:
// allowlist check, durable insert, then fire-and-forget fan-out. The
// response is written as soon as the row is committed; no notification
// work is awaited.
func acceptSubmission(ctx *fasthttp.RequestCtx, db *gorm.DB, cfg *config.Config, dispatcher *notify.Dispatcher, log *zap.Logger, form *dbpkg.Form, data map[string]any) {
	if len(form.AllowedDomains) > 0 {
		origin := requestOrigin(ctx)
		if origin == "" {
			// Without an Origin/Referer the check is skipped unless
			// configured otherwise: the allowlist guards browser
			// embedding, not server-to-server callers.
			if cfg.RequireOriginWhenAllowlisted {
				respond.Error(ctx, fasthttp.StatusForbidden, respond.CodeForbidden, "origin required for this form")
				return
			}
		} else if !allowlist.Allowed(origin, form.AllowedDomains) {
			respond.Error(ctx, fasthttp.StatusForbidden, respond.CodeForbidden, "domain not allowed")
			return
		}
	}

	sub, err := dbpkg.CreateSubmission(db, form, data, ctx.RemoteIP().String(), string(ctx.UserAgent()))
	if sub == nil {
		respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to store submission", err.Error())
		return
	}
	if err != nil {
		log.Warn("usage increment failed",
			zap.Uint("form_id", form.ID), zap.String("submission_id", sub.ID), zap.Error(err))
	}

	if submissionsTotal != nil {
		submissionsTotal.WithLabelValues(form.Slug).Inc()
	}

	dispatcher.Dispatch(form, sub)

	respond.JSON(ctx, fasthttp.StatusCreated, map[string]any{
		"success":      true,
		"submissionId": sub.ID,
		"message":      "submission stored",
	})
}

// parseCollectBody accepts either a JSON body {form|bucket, data} or
// URL-encoded form fields (where a form/bucket field names the target
// and every other field becomes payload data).
func parseCollectBody(ctx *fasthttp.RequestCtx) (name string, data map[string]any, err error) {
	contentType := string(ctx.Request.Header.ContentType())

	if strings.Contains(contentType, "application/json") {
		var req collectRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			return "", nil, errInvalidJSON
		}
		name = req.Form
		if name == "" {
			name = req.Bucket
		}
		return name, req.Data, nil
	}

	data = make(map[string]any)
	ctx.PostArgs().VisitAll(func(k, v []byte) {
		field := string(k)
		switch field {
		case "form", "bucket":
			if name == "" {
				name = string(v)
			}
		default:
			data[field] = string(v)
		}
	})
	return name, data, nil
}

var errInvalidJSON = errors.New("invalid JSON body")

func requestOrigin(ctx *fasthttp.RequestCtx) string {
	if origin := ctx.Request.Header.Peek("Origin"); len(origin) > 0 {
		return string(origin)
	}
	return string(ctx.Request.Header.Peek("Referer"))
}
