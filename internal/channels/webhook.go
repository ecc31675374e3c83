package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender POSTs notifications as JSON to the recipient's URL.
// When a secret is configured, the body is signed with HMAC-SHA256 and
// the signature sent in X-TeleClaude-Signature.
type WebhookSender struct {
	client *http.Client
	secret string
}

// NewWebhookSender creates a WebhookSender with the given signing
// secret (empty disables signing).
func NewWebhookSender(secret string) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: 15 * time.Second},
		secret: secret,
	}
}

type webhookPayload struct {
	Event string `json:"event"`
	Text  string `json:"text"`
	At    string `json:"at"`
}

// Send posts the rendered text to the address URL.
func (w *WebhookSender) Send(ctx context.Context, address, renderedText string) error {
	body, err := json.Marshal(webhookPayload{
		Event: "notification",
		Text:  renderedText,
		At:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set("X-TeleClaude-Signature", sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
