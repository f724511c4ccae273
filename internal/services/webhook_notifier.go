package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"forms-api/internal/models"
)

// discordContentLimit is Discord's maximum message length
const discordContentLimit = 2000

// SignatureHeader carries the HMAC-SHA256 of a generic webhook body
const SignatureHeader = "X-Forms-Signature"

// WebhookNotifier posts submission events to Slack, Discord or a generic endpoint
type WebhookNotifier struct {
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier. Deadlines come from the
// caller's context.
func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: &http.Client{},
	}
}

// WebhookPayload is the generic event body
type WebhookPayload struct {
	Event        string                 `json:"event"`
	FormID       string                 `json:"form_id"`
	FormName     string                 `json:"form_name"`
	FormType     string                 `json:"form_type"`
	SubmissionID string                 `json:"submission_id"`
	Email        string                 `json:"email,omitempty"`
	Data         map[string]interface{} `json:"data"`
	Timestamp    string                 `json:"timestamp"`
}

// NewSubmissionPayload builds the event for a stored submission
func NewSubmissionPayload(form *models.Form, submission *models.Submission) WebhookPayload {
	return WebhookPayload{
		Event:        "submission.created",
		FormID:       form.ID,
		FormName:     form.Name,
		FormType:     string(form.FormType),
		SubmissionID: submission.ID,
		Email:        submission.Email,
		Data:         submission.Data,
		Timestamp:    submission.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Send delivers one event. The body shape depends on the webhook kind.
func (wn *WebhookNotifier) Send(ctx context.Context, hook models.WebhookSettings, payload WebhookPayload) error {
	var (
		body []byte
		err  error
	)
	switch hook.Kind {
	case models.WebhookKindSlack:
		body, err = json.Marshal(map[string]string{"text": summarize(payload)})
	case models.WebhookKindDiscord:
		body, err = json.Marshal(map[string]string{"content": truncate(summarize(payload), discordContentLimit)})
	default:
		body, err = json.Marshal(payload)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Forms-Webhook/1.0")

	if hook.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+generateSignature(body, hook.Secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// summarize renders a chat message for Slack and Discord
func summarize(p WebhookPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New submission on %s", p.FormName)
	if p.Email != "" {
		fmt.Fprintf(&b, " from %s", p.Email)
	}

	keys := make([]string, 0, len(p.Data))
	for k := range p.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: %s", k, csvCell(p.Data[k]))
	}
	return b.String()
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
