package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "formsink/internal/db"
	"formsink/internal/http/respond"
)

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "fs_" + base64.URLEncoding.EncodeToString(b), nil
}

type keyResponse struct {
	ID         uint       `json:"id"`
	Name       string     `json:"name"`
	MaskedKey  string     `json:"maskedKey"`
	CanRead    bool       `json:"canRead"`
	CanWrite   bool       `json:"canWrite"`
	Scope      string     `json:"scope"`
	FormIDs    []uint     `json:"formIds,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func toKeyResponse(k *dbpkg.APIKey) keyResponse {
	return keyResponse{
		ID:         k.ID,
		Name:       k.Name,
		MaskedKey:  k.Masked(),
		CanRead:    k.CanRead,
		CanWrite:   k.CanWrite,
		Scope:      k.Scope,
		FormIDs:    k.FormIDs,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

type createKeyRequest struct {
	Name     string `json:"name"`
	CanRead  *bool  `json:"canRead"`
	CanWrite *bool  `json:"canWrite"`
	Scope    string `json:"scope"`
	FormIDs  []uint `json:"formIds"`
}

// CreateAPIKey mints a new key for the caller's owner. The token value
// appears in this response and nowhere else.
func CreateAPIKey(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		caller, ok := MustKey(ctx)
		if !ok {
			return
		}

		var req createKeyRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "invalid JSON body")
			return
		}
		if req.Name == "" {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "name required")
			return
		}
		scope := req.Scope
		if scope == "" {
			scope = dbpkg.ScopeAll
		}
		if scope != dbpkg.ScopeAll && scope != dbpkg.ScopeForms {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "scope must be all or forms")
			return
		}
		if scope == dbpkg.ScopeForms && len(req.FormIDs) == 0 {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "formIds required for forms scope")
			return
		}

		token, err := generateAPIKey()
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to generate key", err.Error())
			return
		}

		key := &dbpkg.APIKey{
			OwnerID:  caller.OwnerID,
			Name:     req.Name,
			Key:      token,
			CanRead:  req.CanRead == nil || *req.CanRead,
			CanWrite: req.CanWrite == nil || *req.CanWrite,
			Scope:    scope,
			FormIDs:  datatypes.JSONSlice[uint](req.FormIDs),
		}
		if err := db.Create(key).Error; err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to create key", err.Error())
			return
		}

		respond.JSON(ctx, fasthttp.StatusCreated, map[string]any{
			"success": true,
			"key":     toKeyResponse(key),
			// Full token, shown exactly once.
			"token": token,
		})
	}
}

// ListAPIKeys returns the owner's keys with masked token values.
func ListAPIKeys(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		caller, ok := MustKey(ctx)
		if !ok {
			return
		}

		var keys []dbpkg.APIKey
		if err := db.Where("owner_id = ?", caller.OwnerID).Order("created_at ASC").Find(&keys).Error; err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
			return
		}

		out := make([]keyResponse, 0, len(keys))
		for i := range keys {
			out = append(out, toKeyResponse(&keys[i]))
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{"success": true, "keys": out})
	}
}

// RollAPIKey replaces a key's token value, invalidating the old one.
// The new token is returned once.
func RollAPIKey(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		caller, ok := MustKey(ctx)
		if !ok {
			return
		}

		key, ok := ownedKeyFromPath(ctx, db, caller)
		if !ok {
			return
		}

		token, err := generateAPIKey()
		if err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to generate key", err.Error())
			return
		}
		if err := db.Model(key).Update("key", token).Error; err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to roll key", err.Error())
			return
		}

		key.Key = token
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{
			"success": true,
			"key":     toKeyResponse(key),
			"token":   token,
		})
	}
}

// DeleteAPIKey removes a key permanently.
func DeleteAPIKey(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		caller, ok := MustKey(ctx)
		if !ok {
			return
		}

		key, ok := ownedKeyFromPath(ctx, db, caller)
		if !ok {
			return
		}
		if key.ID == caller.ID {
			respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "cannot delete the key used for this request")
			return
		}

		if err := db.Delete(key).Error; err != nil {
			respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "failed to delete key", err.Error())
			return
		}
		respond.JSON(ctx, fasthttp.StatusOK, map[string]any{"success": true, "message": "key deleted"})
	}
}

func ownedKeyFromPath(ctx *fasthttp.RequestCtx, db *gorm.DB, caller *dbpkg.APIKey) (*dbpkg.APIKey, bool) {
	idStr, _ := ctx.UserValue("id").(string)
	id, err := strconv.Atoi(idStr)
	if err != nil || id <= 0 {
		respond.Error(ctx, fasthttp.StatusBadRequest, respond.CodeValidation, "invalid key id")
		return nil, false
	}

	var key dbpkg.APIKey
	if err := db.Where("id = ? AND owner_id = ?", id, caller.OwnerID).First(&key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			respond.Error(ctx, fasthttp.StatusNotFound, respond.CodeNotFound, "key not found")
			return nil, false
		}
		respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
		return nil, false
	}
	return &key, true
}
