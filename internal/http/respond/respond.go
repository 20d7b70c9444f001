// Package respond renders the stable JSON envelopes every endpoint
// uses, success and error alike.
package respond

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// Error codes exposed in the error envelope.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeValidation      = "validation"
	CodeInternal        = "internal_error"
)

// JSON writes v with the given status.
func JSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"success":false,"error":"internal_error","message":"encoding failure"}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// Error writes the error envelope. details is only included for 500s,
// as an internal debugging aid.
func Error(ctx *fasthttp.RequestCtx, status int, code, message string, details ...string) {
	envelope := map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	}
	if len(details) > 0 && details[0] != "" {
		envelope["details"] = details[0]
	}
	JSON(ctx, status, envelope)
}
