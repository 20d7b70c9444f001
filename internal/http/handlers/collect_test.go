package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"formsink/internal/config"
	dbpkg "formsink/internal/db"
	"formsink/internal/http/middleware"
	"formsink/internal/notify"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, dbpkg.Migrate(gdb))
	return gdb
}

type collectFixture struct {
	db     *gorm.DB
	owner  *dbpkg.User
	key    *dbpkg.APIKey
	handle fasthttp.RequestHandler
	bySlug fasthttp.RequestHandler
	disp   *notify.Dispatcher
}

func newCollectFixture(t *testing.T) *collectFixture {
	t.Helper()
	gdb := newTestDB(t)
	log := zap.NewNop()

	owner := &dbpkg.User{Username: "owner", PasswordHash: "x", Email: "owner@example.com"}
	require.NoError(t, gdb.Create(owner).Error)
	key := &dbpkg.APIKey{
		OwnerID: owner.ID, Name: "test", Key: "fs_testkey_0123456789",
		CanRead: true, CanWrite: true, Scope: dbpkg.ScopeAll,
	}
	require.NoError(t, gdb.Create(key).Error)

	cfg := &config.Config{}
	// No senders configured: fan-out resolves to zero targets.
	disp := notify.NewDispatcher(gdb, log, nil, nil, nil, nil)
	auth := middleware.KeyAuth(gdb, log, middleware.KeyAuthOptions{AllowQueryKey: true, RequireWrite: true})

	return &collectFixture{
		db:     gdb,
		owner:  owner,
		key:    key,
		handle: auth(CollectHandler(gdb, cfg, disp, log)),
		bySlug: auth(CollectBySlugHandler(gdb, cfg, disp, log)),
		disp:   disp,
	}
}

type requestOpts struct {
	auth        string
	uri         string
	contentType string
	origin      string
	slug        string
}

func doRequest(handler fasthttp.RequestHandler, body string, opts requestOpts) *fasthttp.RequestCtx {
	var req fasthttp.Request
	uri := opts.uri
	if uri == "" {
		uri = "http://test/collect"
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	if opts.contentType == "" {
		opts.contentType = "application/json"
	}
	req.Header.SetContentType(opts.contentType)
	if opts.auth != "" {
		req.Header.Set("Authorization", "Bearer "+opts.auth)
	}
	if opts.origin != "" {
		req.Header.Set("Origin", opts.origin)
	}
	req.SetBodyString(body)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	if opts.slug != "" {
		ctx.SetUserValue("slug", opts.slug)
	}
	handler(ctx)
	return ctx
}

func responseBody(t *testing.T, ctx *fasthttp.RequestCtx) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	return body
}

func TestCollectCreatesFormAndStoresSubmission(t *testing.T) {
	fx := newCollectFixture(t)

	ctx := doRequest(fx.handle, `{"form":"Contact","data":{"email":"a@b.com","message":"hi"}}`,
		requestOpts{auth: fx.key.Key})
	fx.disp.Drain(time.Second)

	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	body := responseBody(t, ctx)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["submissionId"])

	var form dbpkg.Form
	require.NoError(t, fx.db.Where("owner_id = ? AND name = ?", fx.owner.ID, "Contact").First(&form).Error)

	var subs []dbpkg.Submission
	require.NoError(t, fx.db.Where("form_id = ?", form.ID).Find(&subs).Error)
	require.Len(t, subs, 1)
	assert.Equal(t, "a@b.com", subs[0].Payload["email"])
	assert.Equal(t, body["submissionId"], subs[0].ID)
}

func TestCollectReusesExistingForm(t *testing.T) {
	fx := newCollectFixture(t)

	for i := 0; i < 2; i++ {
		ctx := doRequest(fx.handle, `{"bucket":"Contact","data":{"n":"1"}}`, requestOpts{auth: fx.key.Key})
		require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	}
	fx.disp.Drain(time.Second)

	var count int64
	require.NoError(t, fx.db.Model(&dbpkg.Form{}).Where("owner_id = ?", fx.owner.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count, "same bucket name must not create a second form")

	var subCount int64
	require.NoError(t, fx.db.Model(&dbpkg.Submission{}).Count(&subCount).Error)
	assert.EqualValues(t, 2, subCount)
}

func TestCollectRejectsDisallowedOrigin(t *testing.T) {
	fx := newCollectFixture(t)

	form := &dbpkg.Form{
		OwnerID:        fx.owner.ID,
		Name:           "Contact",
		Slug:           "contact-allow",
		AllowedDomains: datatypes.JSONSlice[string]{"example.com"},
	}
	require.NoError(t, fx.db.Create(form).Error)

	ctx := doRequest(fx.handle, `{"form":"Contact","data":{"a":"b"}}`,
		requestOpts{auth: fx.key.Key, origin: "https://attacker.io"})
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	var count int64
	require.NoError(t, fx.db.Model(&dbpkg.Submission{}).Count(&count).Error)
	assert.EqualValues(t, 0, count, "rejected submissions must not be stored")

	// An allowlisted origin goes through.
	ctx = doRequest(fx.handle, `{"form":"Contact","data":{"a":"b"}}`,
		requestOpts{auth: fx.key.Key, origin: "https://example.com"})
	fx.disp.Drain(time.Second)
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
}

func TestCollectOriginAbsentSkipsCheck(t *testing.T) {
	fx := newCollectFixture(t)

	form := &dbpkg.Form{
		OwnerID:        fx.owner.ID,
		Name:           "Contact",
		Slug:           "contact-noorigin",
		AllowedDomains: datatypes.JSONSlice[string]{"example.com"},
	}
	require.NoError(t, fx.db.Create(form).Error)

	ctx := doRequest(fx.handle, `{"form":"Contact","data":{"a":"b"}}`, requestOpts{auth: fx.key.Key})
	fx.disp.Drain(time.Second)
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(),
		"server-to-server callers carry no Origin")
}

func TestCollectDeletedFormRejected(t *testing.T) {
	fx := newCollectFixture(t)

	form, err := dbpkg.FindOrCreateForm(fx.db, fx.owner.ID, "Contact")
	require.NoError(t, err)
	require.NoError(t, fx.db.Delete(form).Error)

	ctx := doRequest(fx.handle, `{"form":"Contact","data":{"a":"b"}}`, requestOpts{auth: fx.key.Key})
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestCollectAuth(t *testing.T) {
	fx := newCollectFixture(t)

	ctx := doRequest(fx.handle, `{"form":"Contact","data":{"a":"b"}}`, requestOpts{})
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = doRequest(fx.handle, `{"form":"Contact","data":{"a":"b"}}`, requestOpts{auth: "fs_wrong"})
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	readOnly := &dbpkg.APIKey{
		OwnerID: fx.owner.ID, Name: "ro", Key: "fs_readonly_0123456789",
		CanRead: true, Scope: dbpkg.ScopeAll,
	}
	require.NoError(t, fx.db.Create(readOnly).Error)
	ctx = doRequest(fx.handle, `{"form":"Contact","data":{"a":"b"}}`, requestOpts{auth: readOnly.Key})
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}

func TestCollectQueryKeyFallback(t *testing.T) {
	fx := newCollectFixture(t)

	ctx := doRequest(fx.handle, `{"form":"Contact","data":{"a":"b"}}`,
		requestOpts{uri: "http://test/collect?key=" + fx.key.Key})
	fx.disp.Drain(time.Second)
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
}

func TestCollectFormEncodedBody(t *testing.T) {
	fx := newCollectFixture(t)

	ctx := doRequest(fx.handle, "form=Contact&email=a%40b.com&message=hello",
		requestOpts{auth: fx.key.Key, contentType: "application/x-www-form-urlencoded"})
	fx.disp.Drain(time.Second)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	var sub dbpkg.Submission
	require.NoError(t, fx.db.First(&sub).Error)
	assert.Equal(t, "a@b.com", sub.Payload["email"])
	assert.Equal(t, "hello", sub.Payload["message"])
	assert.NotContains(t, sub.Payload, "form", "the routing field is not payload data")
}

func TestCollectValidation(t *testing.T) {
	fx := newCollectFixture(t)

	ctx := doRequest(fx.handle, `{"data":{"a":"b"}}`, requestOpts{auth: fx.key.Key})
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = doRequest(fx.handle, `{"form":"Contact"}`, requestOpts{auth: fx.key.Key})
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = doRequest(fx.handle, `{not json`, requestOpts{auth: fx.key.Key})
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestCollectBySlug(t *testing.T) {
	fx := newCollectFixture(t)

	form, err := dbpkg.FindOrCreateForm(fx.db, fx.owner.ID, "Contact")
	require.NoError(t, err)

	ctx := doRequest(fx.bySlug, `{"data":{"a":"b"}}`,
		requestOpts{auth: fx.key.Key, uri: "http://test/f/" + form.Slug, slug: form.Slug})
	fx.disp.Drain(time.Second)
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	ctx = doRequest(fx.bySlug, `{"data":{"a":"b"}}`,
		requestOpts{auth: fx.key.Key, uri: "http://test/f/nope", slug: "nope"})
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestCollectBySlugScopedKey(t *testing.T) {
	fx := newCollectFixture(t)

	covered, err := dbpkg.FindOrCreateForm(fx.db, fx.owner.ID, "Covered")
	require.NoError(t, err)
	other, err := dbpkg.FindOrCreateForm(fx.db, fx.owner.ID, "Other")
	require.NoError(t, err)

	scoped := &dbpkg.APIKey{
		OwnerID: fx.owner.ID, Name: "scoped", Key: "fs_scoped_0123456789",
		CanRead: true, CanWrite: true,
		Scope: dbpkg.ScopeForms, FormIDs: datatypes.JSONSlice[uint]{covered.ID},
	}
	require.NoError(t, fx.db.Create(scoped).Error)

	ctx := doRequest(fx.bySlug, `{"data":{"a":"b"}}`,
		requestOpts{auth: scoped.Key, uri: "http://test/f/" + covered.Slug, slug: covered.Slug})
	fx.disp.Drain(time.Second)
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	ctx = doRequest(fx.bySlug, `{"data":{"a":"b"}}`,
		requestOpts{auth: scoped.Key, uri: "http://test/f/" + other.Slug, slug: other.Slug})
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}
