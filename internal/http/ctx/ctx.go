package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "formsink/internal/db"
)

const (
	APIKeyKey = "apiKey"
	OwnerKey  = "owner"
)

func SetAPIKey(ctx *fasthttp.RequestCtx, key *dbpkg.APIKey) {
	ctx.SetUserValue(APIKeyKey, key)
}

func APIKeyFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.APIKey, bool) {
	v := ctx.UserValue(APIKeyKey)
	if v == nil {
		return nil, false
	}
	k, ok := v.(*dbpkg.APIKey)
	return k, ok
}

func SetOwner(ctx *fasthttp.RequestCtx, owner *dbpkg.User) {
	ctx.SetUserValue(OwnerKey, owner)
}

func OwnerFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	v := ctx.UserValue(OwnerKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*dbpkg.User)
	return u, ok
}
