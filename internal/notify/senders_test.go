package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbpkg "formsink/internal/db"
)

func testSubmission(payload map[string]any) *dbpkg.Submission {
	return &dbpkg.Submission{
		ID:        "11111111-2222-3333-4444-555555555555",
		FormID:    1,
		Payload:   payload,
		CreatedAt: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}
}

func TestEmailSenderSend(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &EmailSender{
		Endpoint: srv.URL,
		APIKey:   "re_test",
		From:     "notify@formsink.dev",
		Client:   srv.Client(),
	}

	form := &dbpkg.Form{Name: "Contact"}
	sub := testSubmission(map[string]any{
		"email":   "a@b.com",
		"tags":    []any{"x", "y"},
		"profile": map[string]any{"age": float64(3)},
	})

	require.NoError(t, sender.Send("dest@example.com", form, sub))

	assert.Equal(t, "Bearer re_test", auth)
	assert.Equal(t, "notify@formsink.dev", got["from"])
	assert.Equal(t, []any{"dest@example.com"}, got["to"])
	assert.Equal(t, "New submission to Contact", got["subject"])

	html, _ := got["html"].(string)
	assert.Contains(t, html, "a@b.com")
	assert.Contains(t, html, "x, y")
	assert.Contains(t, html, `{&#34;age&#34;:3}`)
	assert.Contains(t, html, sub.ID)
}

func TestEmailSenderRejectsInvalidAddress(t *testing.T) {
	sender := &EmailSender{Endpoint: "http://unused", APIKey: "k", From: "f@x.com", Client: http.DefaultClient}
	err := sender.Send("not-an-address", &dbpkg.Form{Name: "F"}, testSubmission(nil))
	assert.Error(t, err)
}

func TestEmailSenderProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	sender := &EmailSender{Endpoint: srv.URL, APIKey: "k", From: "f@x.com", Client: srv.Client()}
	err := sender.Send("dest@example.com", &dbpkg.Form{Name: "F"}, testSubmission(nil))
	assert.ErrorContains(t, err, "422")
}

func TestSlackBlocksShape(t *testing.T) {
	payload := map[string]any{}
	for i := 0; i < 15; i++ {
		payload[fmt.Sprintf("field%02d", i)] = "v"
	}
	form := &dbpkg.Form{Name: "Contact"}
	sub := testSubmission(payload)

	blocks := buildSlackBlocks(form, sub)
	require.Len(t, blocks, 3)

	assert.Equal(t, "header", blocks[0]["type"])
	section := blocks[1]
	fields := section["fields"].([]map[string]any)
	assert.Len(t, fields, slackFieldLimit, "section fields are capped")

	footer := blocks[2]
	elements := footer["elements"].([]map[string]any)
	text := elements[0]["text"].(string)
	assert.Contains(t, text, sub.ID)
	assert.Contains(t, text, "2026-08-31T12:00:00Z")
}

func TestSlackSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusNotFound)
	}))
	defer srv.Close()

	sender := &SlackSender{Client: srv.Client()}
	form := &dbpkg.Form{Name: "F", SlackWebhookURL: srv.URL}
	err := sender.Send(form, testSubmission(map[string]any{"a": "b"}))
	assert.ErrorContains(t, err, "404")
}

func TestDiscordEmbedShape(t *testing.T) {
	payload := map[string]any{}
	for i := 0; i < 30; i++ {
		payload[fmt.Sprintf("field%02d", i)] = "v"
	}
	form := &dbpkg.Form{Name: "Contact"}
	sub := testSubmission(payload)

	embed := buildDiscordEmbed(form, sub)
	assert.Equal(t, "New submission: Contact", embed["title"])
	assert.Equal(t, discordAccentColor, embed["color"])

	fields := embed["fields"].([]map[string]any)
	assert.Len(t, fields, discordFieldLimit, "embed fields are capped")

	footer := embed["footer"].(map[string]any)
	assert.Contains(t, footer["text"], sub.ID)
	assert.Equal(t, "2026-08-31T12:00:00Z", embed["timestamp"])
}

func TestDiscordEmptyValuePlaceholder(t *testing.T) {
	embed := buildDiscordEmbed(&dbpkg.Form{Name: "F"}, testSubmission(map[string]any{"empty": ""}))
	fields := embed["fields"].([]map[string]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "-", fields[0]["value"])
}

func TestDiscordSenderPosts(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := &DiscordSender{Client: srv.Client()}
	form := &dbpkg.Form{Name: "F", DiscordWebhookURL: srv.URL}
	require.NoError(t, sender.Send(form, testSubmission(map[string]any{"a": "b"})))

	embeds := got["embeds"].([]any)
	require.Len(t, embeds, 1)
}
