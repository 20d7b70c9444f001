package handlers

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "formsink/internal/db"
	"formsink/internal/http/respond"
)

type submissionResponse struct {
	ID        string         `json:"id"`
	Payload   map[string]any `json:"payload"`
	RemoteIP  string         `json:"remoteIp,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toSubmissionResponse(s *dbpkg.Submission) submissionResponse {
	return submissionResponse{
		ID:        s.ID,
		Payload:   s.Payload,
		RemoteIP:  s.RemoteIP,
		UserAgent: s.UserAgent,
		CreatedAt: s.CreatedAt,
	}
}

// ListSubmissions returns a form's submissions, newest first.
func ListSubmissions(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}
		form, ok := MustOwnedForm(ctx, db, key)
		if !ok {
			return
		}

		limit := 50
		if v, err := strconv.Atoi(string(ctx.QueryArgs().Peek("limit"))); err == nil && v > 0 {
			if v > 200 {
				v = 200
			}
			limit = v
		}
		offset := 0
		if v, err := strconv.Atoi(string(ctx.QueryArgs().Peek("offset"))); err == nil && v > 0 {
			offset = v
		}

		var subs []dbpkg.Submission
		err := db.Where("form_id = ?", form.ID).
			Order("created_at DESC").Limit(limit).Offset(offset).
			Find(&subs).Error
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}

		out := make([]submissionResponse, 0, len(subs))
		for i := range subs {
			out = append(out, toSubmissionResponse(&subs[i]))
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{"success": true, "submissions": out})
	}
}

// GetSubmission returns one submission by id, scoped to the owner.
func GetSubmission(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}

		id, _ := ctx.UserValue("id").(string)
		sub, err := dbpkg.FindSubmission(db, key.OwnerID, id)
		if err == dbpkg.ErrNotFound {
			respond.Error(ctx, fasthttp.StatusNotFound, respond.CodeNotFound, "submission not found")
			return
		}
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}
		if !key.AllowsForm(sub.FormID) {
			respond.Error(ctx, fasthttp.StatusForbidden, respond.CodeForbidden, "key does not cover this form")
			return
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{"success": true, "submission": toSubmissionResponse(sub)})
	}
}

// DeleteSubmission soft-deletes one submission.
func DeleteSubmission(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}

		id, _ := ctx.UserValue("id").(string)
		sub, err := dbpkg.FindSubmission(db, key.OwnerID, id)
		if err == dbpkg.ErrNotFound {
			respond.Error(ctx, fasthttp.StatusNotFound, respond.CodeNotFound, "submission not found")
			return
		}
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}
		if !key.AllowsForm(sub.FormID) {
			respond.Error(ctx, fasthttp.StatusForbidden, respond.CodeForbidden, "key does not cover this form")
			return
		}

		if err := db.Delete(sub).Error; err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to delete submission", err.Error())
			return
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{"success": true, "message": "submission deleted"})
	}
}
