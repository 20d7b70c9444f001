// Package sheets appends submissions to a connected Google spreadsheet.
// Each sync refreshes the form's OAuth token when needed, reconciles the
// header row additively, and appends one positionally-built row. A sync
// failure is terminal for that attempt only; it never touches the
// ingestion response.
package sheets

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	dbpkg "formsink/internal/db"
)

const (
	defaultTokenEndpoint = "https://oauth2.googleapis.com/token"
	defaultAPIBase       = "https://sheets.googleapis.com/v4/spreadsheets"

	// tokenRefreshMargin refreshes tokens expiring within this window
	// so a sync never starts with a token about to lapse mid-flight.
	tokenRefreshMargin = 5 * time.Minute

	defaultSheetTitle = "Sheet1"
)

// Syncer drives the per-form sheet sync. Writes to any one form's sheet
// are serialized by a per-form mutex so concurrent submissions cannot
// lose header updates to a read-modify-write race.
type Syncer struct {
	DB  *gorm.DB
	Log *zap.Logger

	Client       *http.Client
	ClientID     string
	ClientSecret string

	// TokenEndpoint and APIBase are overridable for tests.
	TokenEndpoint string
	APIBase       string

	locks sync.Map // form id -> *sync.Mutex
}

func NewSyncer(db *gorm.DB, log *zap.Logger, client *http.Client, clientID, clientSecret string) *Syncer {
	return &Syncer{
		DB:            db,
		Log:           log,
		Client:        client,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		TokenEndpoint: defaultTokenEndpoint,
		APIBase:       defaultAPIBase,
	}
}

// Sync appends one submission to the form's spreadsheet. Any step
// failing aborts the whole attempt; nothing is partially retried.
func (s *Syncer) Sync(form *dbpkg.Form, sub *dbpkg.Submission) error {
	mu := s.lockFor(form.ID)
	mu.Lock()
	defer mu.Unlock()

	token, err := s.freshToken(form)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}

	title, err := s.sheetTitle(token, form.SheetsSpreadsheetID)
	if err != nil {
		return fmt.Errorf("spreadsheet metadata: %w", err)
	}

	if err := s.reconcileHeader(token, form.SheetsSpreadsheetID, title, sub); err != nil {
		return fmt.Errorf("header reconciliation: %w", err)
	}

	// Re-read so the row is built against the authoritative column
	// order, including columns another writer may have added.
	headers, err := s.readHeader(token, form.SheetsSpreadsheetID, title)
	if err != nil {
		return fmt.Errorf("header read: %w", err)
	}

	if err := s.appendRow(token, form.SheetsSpreadsheetID, title, buildRow(headers, sub)); err != nil {
		return fmt.Errorf("row append: %w", err)
	}
	return nil
}

func (s *Syncer) lockFor(formID uint) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(formID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// freshToken returns a usable access token, exchanging the refresh
// token when the stored one expires within the safety margin. The new
// token is persisted on the form row before any sheet write happens.
func (s *Syncer) freshToken(form *dbpkg.Form) (string, error) {
	if form.SheetsAccessToken != "" && form.SheetsTokenExpiry != nil &&
		time.Until(*form.SheetsTokenExpiry) > tokenRefreshMargin {
		return form.SheetsAccessToken, nil
	}

	if form.SheetsRefreshToken == "" {
		return "", errors.New("access token expired and no refresh token stored")
	}

	values := url.Values{}
	values.Set("client_id", s.ClientID)
	values.Set("client_secret", s.ClientSecret)
	values.Set("refresh_token", form.SheetsRefreshToken)
	values.Set("grant_type", "refresh_token")

	resp, err := s.Client.PostForm(s.TokenEndpoint, values)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", errors.New("token endpoint returned empty access token")
	}

	expiry := time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	err = s.DB.Model(&dbpkg.Form{}).Where("id = ?", form.ID).Updates(map[string]interface{}{
		"sheets_access_token": body.AccessToken,
		"sheets_token_expiry": expiry,
	}).Error
	if err != nil {
		return "", fmt.Errorf("persisting refreshed token: %w", err)
	}

	form.SheetsAccessToken = body.AccessToken
	form.SheetsTokenExpiry = &expiry
	return body.AccessToken, nil
}

// sheetTitle resolves the first sheet's display name, falling back to
// the Google default when the metadata doesn't name one.
func (s *Syncer) sheetTitle(token, spreadsheetID string) (string, error) {
	u := fmt.Sprintf("%s/%s?fields=sheets.properties.title", s.APIBase, url.PathEscape(spreadsheetID))
	var body struct {
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := s.getJSON(token, u, &body); err != nil {
		return "", err
	}
	if len(body.Sheets) == 0 || body.Sheets[0].Properties.Title == "" {
		return defaultSheetTitle, nil
	}
	return body.Sheets[0].Properties.Title, nil
}

// reconcileHeader creates the header row when the sheet is empty, or
// appends columns for payload keys the existing header lacks. Headers
// are never removed or reordered.
func (s *Syncer) reconcileHeader(token, spreadsheetID, title string, sub *dbpkg.Submission) error {
	headers, err := s.readHeader(token, spreadsheetID, title)
	if err != nil {
		return err
	}

	if len(headers) == 0 {
		headers = append([]string{"Submission ID", "Timestamp"}, sortedKeys(sub.Payload)...)
		return s.writeHeader(token, spreadsheetID, title, headers)
	}

	existing := make(map[string]bool, len(headers))
	for _, h := range headers {
		existing[h] = true
	}
	grown := false
	for _, k := range sortedKeys(sub.Payload) {
		if !existing[k] {
			headers = append(headers, k)
			grown = true
		}
	}
	if !grown {
		return nil
	}
	return s.writeHeader(token, spreadsheetID, title, headers)
}

func (s *Syncer) readHeader(token, spreadsheetID, title string) ([]string, error) {
	u := fmt.Sprintf("%s/%s/values/%s", s.APIBase, url.PathEscape(spreadsheetID), url.PathEscape(title+"!1:1"))
	var body struct {
		Values [][]any `json:"values"`
	}
	if err := s.getJSON(token, u, &body); err != nil {
		return nil, err
	}
	if len(body.Values) == 0 {
		return nil, nil
	}
	headers := make([]string, 0, len(body.Values[0]))
	for _, v := range body.Values[0] {
		headers = append(headers, fmt.Sprintf("%v", v))
	}
	return headers, nil
}

func (s *Syncer) writeHeader(token, spreadsheetID, title string, headers []string) error {
	rng := title + "!1:1"
	u := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW", s.APIBase, url.PathEscape(spreadsheetID), url.PathEscape(rng))
	row := make([]any, 0, len(headers))
	for _, h := range headers {
		row = append(row, h)
	}
	payload := map[string]any{
		"range":          rng,
		"majorDimension": "ROWS",
		"values":         [][]any{row},
	}
	return s.sendJSON(token, http.MethodPut, u, payload)
}

func (s *Syncer) appendRow(token, spreadsheetID, title string, row []any) error {
	u := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW", s.APIBase, url.PathEscape(spreadsheetID), url.PathEscape(title))
	payload := map[string]any{
		"values": [][]any{row},
	}
	return s.sendJSON(token, http.MethodPost, u, payload)
}

// buildRow maps each header positionally to the submission's value,
// with the two synthetic columns filled from the record itself and
// empty strings for fields this submission doesn't carry.
func buildRow(headers []string, sub *dbpkg.Submission) []any {
	row := make([]any, 0, len(headers))
	for _, h := range headers {
		switch h {
		case "Submission ID":
			row = append(row, sub.ID)
		case "Timestamp":
			row = append(row, sub.CreatedAt.UTC().Format(time.RFC3339))
		default:
			v, ok := sub.Payload[h]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, cellValue(v))
		}
	}
	return row
}

// cellValue renders one payload value for a sheet cell: scalars as-is,
// arrays and objects JSON-stringified.
func cellValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, float64, int, int64:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func sortedKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	// Stable column order for newly created headers.
	sort.Strings(keys)
	return keys
}

func (s *Syncer) getJSON(token, u string, out any) error {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sheets API returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Syncer) sendJSON(token, method, u string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, u, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sheets API returned status %d", resp.StatusCode)
	}
	return nil
}
