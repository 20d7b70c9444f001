package handlers

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "formsink/internal/db"
	"formsink/internal/http/respond"
)

type formResponse struct {
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	AllowedDomains []string  `json:"allowedDomains"`
	EmailEnabled   bool      `json:"emailEnabled"`
	SlackEnabled   bool      `json:"slackEnabled"`
	SlackChannel   string    `json:"slackChannel,omitempty"`
	DiscordEnabled bool      `json:"discordEnabled"`
	DiscordGuild   string    `json:"discordGuild,omitempty"`
	SheetsEnabled  bool      `json:"sheetsEnabled"`
	SheetsLinked   bool      `json:"sheetsLinked"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toFormResponse(f *dbpkg.Form) formResponse {
	return formResponse{
		Slug:           f.Slug,
		Name:           f.Name,
		Description:    f.Description,
		AllowedDomains: f.AllowedDomains,
		EmailEnabled:   f.EmailEnabled,
		SlackEnabled:   f.SlackEnabled,
		SlackChannel:   f.SlackChannel,
		DiscordEnabled: f.DiscordEnabled,
		DiscordGuild:   f.DiscordGuild,
		SheetsEnabled:  f.SheetsEnabled,
		SheetsLinked:   f.SheetsSpreadsheetID != "",
		CreatedAt:      f.CreatedAt,
	}
}

// ListForms returns every active form the key can see.
func ListForms(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}

		q := db.Where("owner_id = ?", key.OwnerID)
		if key.Scope == dbpkg.ScopeForms {
			q = q.Where("id IN ?", []uint(key.FormIDs))
		}

		var forms []dbpkg.Form
		if err := q.Order("created_at DESC").Find(&forms).Error; err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}

		out := make([]formResponse, 0, len(forms))
		for i := range forms {
			out = append(out, toFormResponse(&forms[i]))
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{"success": true, "forms": out})
	}
}

// GetForm returns one form by slug.
func GetForm(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}
		form, ok := MustOwnedForm(ctx, db, key)
		if !ok {
			return
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{"success": true, "form": toFormResponse(form)})
	}
}

type updateFormRequest struct {
	Description    *string  `json:"description"`
	AllowedDomains []string `json:"allowedDomains"`

	EmailEnabled *bool `json:"emailEnabled"`

	SlackEnabled    *bool   `json:"slackEnabled"`
	SlackWebhookURL *string `json:"slackWebhookUrl"`
	SlackChannel    *string `json:"slackChannel"`

	DiscordEnabled    *bool   `json:"discordEnabled"`
	DiscordWebhookURL *string `json:"discordWebhookUrl"`
	DiscordGuild      *string `json:"discordGuild"`

	SheetsEnabled *bool `json:"sheetsEnabled"`
}

// UpdateForm patches mutable form settings. Name and slug are immutable.
func UpdateForm(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}
		form, ok := MustOwnedForm(ctx, db, key)
		if !ok {
			return
		}

		var req updateFormRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "invalid JSON body")
			return
		}

		updates := map[string]interface{}{}
		if req.Description != nil {
			updates["description"] = *req.Description
		}
		if req.AllowedDomains != nil {
			updates["allowed_domains"] = datatypes.JSONSlice[string](req.AllowedDomains)
		}
		if req.EmailEnabled != nil {
			updates["email_enabled"] = *req.EmailEnabled
		}
		if req.SlackEnabled != nil {
			updates["slack_enabled"] = *req.SlackEnabled
		}
		if req.SlackWebhookURL != nil {
			updates["slack_webhook_url"] = *req.SlackWebhookURL
		}
		if req.SlackChannel != nil {
			updates["slack_channel"] = *req.SlackChannel
		}
		if req.DiscordEnabled != nil {
			updates["discord_enabled"] = *req.DiscordEnabled
		}
		if req.DiscordWebhookURL != nil {
			updates["discord_webhook_url"] = *req.DiscordWebhookURL
		}
		if req.DiscordGuild != nil {
			updates["discord_guild"] = *req.DiscordGuild
		}
		if req.SheetsEnabled != nil {
			updates["sheets_enabled"] = *req.SheetsEnabled
		}

		if len(updates) == 0 {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "no updatable fields provided")
			return
		}

		if err := db.Model(form).Updates(updates).Error; err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to update form", err.Error())
			return
		}

		fresh, err := dbpkg.FindOwnedForm(db, key.OwnerID, form.Slug)
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{"success": true, "form": toFormResponse(fresh)})
	}
}

// DeleteForm soft-deletes a form; its slug and name stay reserved only
// until the row is purged, and new submissions are rejected immediately.
func DeleteForm(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key, ok := MustKey(ctx)
		if !ok {
			return
		}
		form, ok := MustOwnedForm(ctx, db, key)
		if !ok {
			return
		}

		if err := db.Delete(form).Error; err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to delete form", err.Error())
			return
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{"success": true, "message": "form deleted"})
	}
}
