package handlers

import (
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "formsink/internal/db"
	httpctx "formsink/internal/http/ctx"
	"formsink/internal/http/respond"
)

// MustKey returns the authenticated API key from context, or sends 401
// and returns (nil, false).
func MustKey(ctx *fasthttp.RequestCtx) (*dbpkg.APIKey, bool) {
	key, ok := httpctx.APIKeyFromCtx(ctx)
	if !ok || key == nil {
		respond.Error(ctx, fasthttp.StatusUnauthorized, respond.CodeUnauthenticated, "unauthorized")
		return nil, false
	}
	return key, true
}

// MustOwnedForm resolves {slug} to a form owned by the key's owner and
// permitted by the key's scope. Writes the error response itself.
func MustOwnedForm(ctx *fasthttp.RequestCtx, db *gorm.DB, key *dbpkg.APIKey) (*dbpkg.Form, bool) {
	slug, _ := ctx.UserValue("slug").(string)
	if slug == "" {
		respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "missing form slug")
		return nil, false
	}
	form, err := dbpkg.FindOwnedForm(db, key.OwnerID, slug)
	if err == dbpkg.ErrNotFound {
		respond.Error(ctx, fasthttp.StatusNotFound, respond.CodeNotFound, "form not found")
		return nil, false
	}
	if err != nil {
		respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
		return nil, false
	}
	if !key.AllowsForm(form.ID) {
		respond.Error(ctx, fasthttp.StatusForbidden, respond.CodeForbidden, "key does not cover this form")
		return nil, false
	}
	return form, true
}
