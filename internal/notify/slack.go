package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	dbpkg "formsink/internal/db"
)

// slackFieldLimit is Slack's cap on fields within a single section block.
const slackFieldLimit = 10

// SlackSender posts submission notifications to a Slack incoming
// webhook as a block-based message.
type SlackSender struct {
	Client *http.Client
}

// Send builds and posts the Slack message for one submission.
func (s *SlackSender) Send(form *dbpkg.Form, sub *dbpkg.Submission) error {
	body, err := json.Marshal(map[string]any{"blocks": buildSlackBlocks(form, sub)})
	if err != nil {
		return err
	}

	resp, err := s.Client.Post(form.SlackWebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// buildSlackBlocks renders header + field section (capped at the Slack
// limit) + context footer with submission id and timestamp.
func buildSlackBlocks(form *dbpkg.Form, sub *dbpkg.Submission) []map[string]any {
	fields := make([]map[string]any, 0, slackFieldLimit)
	for _, k := range sortedKeys(sub.Payload) {
		if len(fields) == slackFieldLimit {
			break
		}
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n%s", k, stringifyValue(sub.Payload[k])),
		})
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": fmt.Sprintf("New submission: %s", form.Name),
			},
		},
	}
	if len(fields) > 0 {
		blocks = append(blocks, map[string]any{
			"type":   "section",
			"fields": fields,
		})
	}
	blocks = append(blocks, map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("Submission %s | %s", sub.ID, sub.CreatedAt.UTC().Format(time.RFC3339)),
			},
		},
	})
	return blocks
}
