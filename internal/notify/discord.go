package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	dbpkg "formsink/internal/db"
)

const (
	// discordFieldLimit is Discord's cap on embed fields.
	discordFieldLimit = 25

	// discordAccentColor is the fixed embed accent (blurple).
	discordAccentColor = 0x5865F2
)

// DiscordSender posts submission notifications to a Discord webhook as
// an embed.
type DiscordSender struct {
	Client *http.Client
}

// Send builds and posts the Discord embed for one submission.
func (s *DiscordSender) Send(form *dbpkg.Form, sub *dbpkg.Submission) error {
	body, err := json.Marshal(map[string]any{
		"embeds": []map[string]any{buildDiscordEmbed(form, sub)},
	})
	if err != nil {
		return err
	}

	resp, err := s.Client.Post(form.DiscordWebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func buildDiscordEmbed(form *dbpkg.Form, sub *dbpkg.Submission) map[string]any {
	fields := make([]map[string]any, 0, discordFieldLimit)
	for _, k := range sortedKeys(sub.Payload) {
		if len(fields) == discordFieldLimit {
			break
		}
		value := stringifyValue(sub.Payload[k])
		if value == "" {
			value = "-"
		}
		fields = append(fields, map[string]any{
			"name":   k,
			"value":  value,
			"inline": true,
		})
	}

	return map[string]any{
		"title":     fmt.Sprintf("New submission: %s", form.Name),
		"color":     discordAccentColor,
		"fields":    fields,
		"footer":    map[string]any{"text": fmt.Sprintf("Submission %s", sub.ID)},
		"timestamp": sub.CreatedAt.UTC().Format(time.RFC3339),
	}
}
