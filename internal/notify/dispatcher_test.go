package notify

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dbpkg "formsink/internal/db"
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

// Slack failing for every call must not stop email or discord, and the
// audit log must carry each attempt with its own outcome.
func TestDispatchIsolatesChannelFailures(t *testing.T) {
	gdb := newTestDB(t)

	owner := &dbpkg.User{Username: "owner", PasswordHash: "x", Email: "owner@example.com"}
	require.NoError(t, gdb.Create(owner).Error)

	var emailHits, discordHits atomic.Int64
	emailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		emailHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer emailSrv.Close()
	slackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer slackSrv.Close()
	discordSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		discordHits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer discordSrv.Close()

	form := &dbpkg.Form{
		OwnerID:           owner.ID,
		Name:              "Contact",
		Slug:              "contact-test",
		EmailEnabled:      true,
		SlackEnabled:      true,
		SlackWebhookURL:   slackSrv.URL,
		SlackChannel:      "#alerts",
		DiscordEnabled:    true,
		DiscordWebhookURL: discordSrv.URL,
	}
	require.NoError(t, gdb.Create(form).Error)

	client := &http.Client{Timeout: 2 * time.Second}
	d := NewDispatcher(gdb, zap.NewNop(),
		&EmailSender{Endpoint: emailSrv.URL, APIKey: "k", From: "n@formsink.dev", Client: client},
		&SlackSender{Client: client},
		&DiscordSender{Client: client},
		nil,
	)

	sub := testSubmission(map[string]any{"email": "a@b.com"})
	sub.FormID = form.ID
	require.NoError(t, gdb.Create(sub).Error)

	d.Dispatch(form, sub)
	d.Drain(5 * time.Second)

	assert.EqualValues(t, 1, emailHits.Load(), "owner email must still be sent")
	assert.EqualValues(t, 1, discordHits.Load(), "discord must still be sent")

	var events []dbpkg.NotificationEvent
	require.NoError(t, gdb.Where("submission_id = ?", sub.ID).Find(&events).Error)
	require.Len(t, events, 3)

	outcomes := map[string]string{}
	for _, ev := range events {
		outcomes[ev.Channel] = ev.Outcome
	}
	assert.Equal(t, dbpkg.OutcomeDelivered, outcomes[dbpkg.ChannelEmail])
	assert.Equal(t, dbpkg.OutcomeFailed, outcomes[dbpkg.ChannelSlack])
	assert.Equal(t, dbpkg.OutcomeDelivered, outcomes[dbpkg.ChannelDiscord])
}

func TestDispatchSkipsDisabledAndUnconfigured(t *testing.T) {
	gdb := newTestDB(t)

	owner := &dbpkg.User{Username: "owner", PasswordHash: "x", Email: "owner@example.com"}
	require.NoError(t, gdb.Create(owner).Error)

	// Slack enabled but no webhook stored, discord disabled entirely.
	form := &dbpkg.Form{OwnerID: owner.ID, Name: "Quiet", Slug: "quiet-test", SlackEnabled: true}
	require.NoError(t, gdb.Create(form).Error)

	client := &http.Client{Timeout: time.Second}
	d := NewDispatcher(gdb, zap.NewNop(), nil, &SlackSender{Client: client}, &DiscordSender{Client: client}, nil)

	sub := testSubmission(map[string]any{"a": "b"})
	sub.FormID = form.ID
	require.NoError(t, gdb.Create(sub).Error)

	d.Dispatch(form, sub)
	d.Drain(time.Second)

	var count int64
	require.NoError(t, gdb.Model(&dbpkg.NotificationEvent{}).Where("submission_id = ?", sub.ID).Count(&count).Error)
	assert.EqualValues(t, 0, count, "nothing should have been attempted")
}

func TestEmailRecipientsDeduplicated(t *testing.T) {
	gdb := newTestDB(t)

	owner := &dbpkg.User{Username: "owner", PasswordHash: "x", Email: "owner@example.com"}
	require.NoError(t, gdb.Create(owner).Error)
	form := &dbpkg.Form{OwnerID: owner.ID, Name: "Contact", Slug: "contact-dedup", EmailEnabled: true}
	require.NoError(t, gdb.Create(form).Error)

	// Verified duplicate of the owner address plus one distinct verified
	// recipient and one unverified (pending) recipient.
	now := time.Now()
	require.NoError(t, gdb.Create(&dbpkg.EmailRecipient{
		FormID: form.ID, Address: "owner@example.com", Enabled: true, VerifiedAt: &now,
	}).Error)
	require.NoError(t, gdb.Create(&dbpkg.EmailRecipient{
		FormID: form.ID, Address: "second@example.com", Enabled: true, VerifiedAt: &now,
	}).Error)
	require.NoError(t, gdb.Create(&dbpkg.EmailRecipient{
		FormID: form.ID, Address: "pending@example.com", Enabled: true,
	}).Error)

	d := NewDispatcher(gdb, zap.NewNop(), &EmailSender{Endpoint: "http://unused", APIKey: "k", From: "n@x.dev"}, nil, nil, nil)

	got := d.emailRecipients(form)
	assert.Equal(t, []string{"owner@example.com", "second@example.com"}, got)
}
