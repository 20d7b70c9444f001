package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/mail"

	dbpkg "formsink/internal/db"
)

// EmailSender delivers submission notifications through a Resend-style
// JSON email API.
type EmailSender struct {
	Endpoint string
	APIKey   string
	From     string

	Client *http.Client
}

// Configured reports whether the provider credentials are present.
func (s *EmailSender) Configured() bool {
	return s.APIKey != "" && s.Endpoint != ""
}

// Send formats and delivers one submission notification email. No retries.
func (s *EmailSender) Send(to string, form *dbpkg.Form, sub *dbpkg.Submission) error {
	return s.SendHTML(to, fmt.Sprintf("New submission to %s", form.Name), buildEmailHTML(form, sub))
}

// SendHTML delivers one HTML email. The recipient address is validated
// before any network call.
func (s *EmailSender) SendHTML(to, subject, htmlBody string) error {
	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", to, err)
	}

	payload := map[string]any{
		"from":    s.From,
		"to":      []string{to},
		"subject": subject,
		"html":    htmlBody,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("email provider returned status %d", resp.StatusCode)
	}
	return nil
}

// buildEmailHTML lists every payload field as a table row.
func buildEmailHTML(form *dbpkg.Form, sub *dbpkg.Submission) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<h2>New submission to %s</h2>", html.EscapeString(form.Name))
	b.WriteString(`<table cellpadding="6" border="0">`)
	for _, k := range sortedKeys(sub.Payload) {
		fmt.Fprintf(&b, "<tr><td><strong>%s</strong></td><td>%s</td></tr>",
			html.EscapeString(k), html.EscapeString(stringifyValue(sub.Payload[k])))
	}
	b.WriteString("</table>")
	fmt.Fprintf(&b, "<p><small>Submission %s &middot; %s</small></p>",
		html.EscapeString(sub.ID), sub.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}
