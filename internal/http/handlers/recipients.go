package handlers

import (
	"encoding/json"
	"fmt"
	"html"
	"net/mail"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"formsink/internal/config"
	dbpkg "formsink/internal/db"
	"formsink/internal/http/respond"
	"formsink/internal/notify"
)

type addRecipientRequest struct {
	Address string `json:"address"`
}

// AddRecipient registers an additional notification address for a form
// and sends the verification email. The address stays pending until the
// verification link is visited.
func AddRecipient(db *gorm.DB, cfg *config.Config, email *notify.EmailSender, log *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}
		form, ok := MustOwnedForm(ctx, db, key)
		if !ok {
			return
		}

		var req addRecipientRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "invalid JSON body")
			return
		}
		if _, err := mail.ParseAddress(req.Address); err != nil {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "invalid email address")
			return
		}

		rec, err := dbpkg.AddRecipient(db, form.ID, req.Address, cfg.VerificationTTL)
		if err != nil {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "recipient already exists for this form")
			return
		}

		if email != nil && email.Configured() {
			token := rec.VerificationToken
			address := rec.Address
			formName := form.Name
			go func() {
				subject := fmt.Sprintf("Confirm notifications for %s", formName)
				body := fmt.Sprintf(
					`<p>You were added as a notification recipient for <strong>%s</strong>.</p>
<p><a href="/verify/%s">Confirm this address</a> to start receiving submissions. The link expires in %d hours.</p>`,
					html.EscapeString(formName), token, int(cfg.VerificationTTL/time.Hour))
				if err := email.SendHTML(address, subject, body); err != nil {
					log.Warn("verification email failed",
						zap.String("address", address), zap.Uint("form_id", form.ID), zap.Error(err))
				}
			}()
		}

		respond.JSON(ctx, fasthttp.StatusCreated, map[string]any{
			"success":   true,
			"recipient": map[string]any{"address": rec.Address, "status": "pending"},
		})
	}
}

// VerifyRecipient handles the emailed verification link. Public, no auth.
func VerifyRecipient(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		token, _ := ctx.UserValue("token").(string)
		rec, err := dbpkg.VerifyRecipient(db, token)
		if err == dbpkg.ErrNotFound {
			respond.Error(ctx, fasthttp.StatusNotFound, respond.CodeNotFound, "verification link is invalid or expired")
			return
		}
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("%s verified", rec.Address),
		})
	}
}
