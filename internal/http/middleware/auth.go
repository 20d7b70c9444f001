package middleware

import (
	"bytes"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	dbpkg "formsink/internal/db"
	httpctx "formsink/internal/http/ctx"
	"formsink/internal/http/respond"
)

// KeyAuthOptions selects where the token may come from and which
// capability the wrapped endpoint needs.
type KeyAuthOptions struct {
	// AllowQueryKey additionally accepts ?key= as a fallback. Only the
	// public collect endpoint enables this.
	AllowQueryKey bool

	RequireRead  bool
	RequireWrite bool
}

// KeyAuth validates API keys and stores the key plus its owner on the
// request. The key's last-used timestamp is updated best-effort; a
// failed timestamp write never fails the request.
func KeyAuth(db *gorm.DB, log *zap.Logger, opts KeyAuthOptions) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			token := bearerToken(ctx)
			if token == "" && opts.AllowQueryKey {
				token = strings.TrimSpace(string(ctx.QueryArgs().Peek("key")))
			}
			if token == "" {
				respond.Error(ctx, fasthttp.StatusUnauthorized, respond.CodeUnauthenticated, "missing API key")
				return
			}

			var key dbpkg.APIKey
			if err := db.Where("key = ?", token).Preload("Owner").First(&key).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					respond.Error(ctx, fasthttp.StatusUnauthorized, respond.CodeUnauthenticated, "invalid API key")
					return
				}
				respond.Error(ctx, fasthttp.StatusInternalServerError, respond.CodeInternal, "database error", err.Error())
				return
			}

			if opts.RequireWrite && !key.CanWrite {
				respond.Error(ctx, fasthttp.StatusForbidden, respond.CodeForbidden, "key does not permit writes")
				return
			}
			if opts.RequireRead && !key.CanRead {
				respond.Error(ctx, fasthttp.StatusForbidden, respond.CodeForbidden, "key does not permit reads")
				return
			}

			if err := db.Model(&dbpkg.APIKey{}).Where("id = ?", key.ID).
				UpdateColumn("last_used_at", time.Now()).Error; err != nil {
				log.Debug("last-used update failed", zap.Uint("key_id", key.ID), zap.Error(err))
			}

			httpctx.SetAPIKey(ctx, &key)
			httpctx.SetOwner(ctx, &key.Owner)
			next(ctx)
		}
	}
}

func bearerToken(ctx *fasthttp.RequestCtx) string {
	auth := ctx.Request.Header.Peek("Authorization")
	const prefix = "Bearer "
	if !bytes.HasPrefix(auth, []byte(prefix)) {
		return ""
	}
	return strings.TrimSpace(string(auth[len(prefix):]))
}
