package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/CosmoTheDev/painscan/internal/config"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Painscan-Signature"

// Sign returns the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// WebhookChannel posts events as JSON to a generic endpoint, signing the body
// when a secret is configured.
type WebhookChannel struct {
	url    string
	secret string
	client *retryablehttp.Client
}

// NewWebhook creates a WebhookChannel from cfg.
func NewWebhook(cfg config.WebhookNotifyConfig) *WebhookChannel {
	return &WebhookChannel{url: cfg.URL, secret: cfg.Secret, client: newDeliveryClient()}
}

func (w *WebhookChannel) Name() string       { return "webhook" }
func (w *WebhookChannel) IsConfigured() bool { return w.url != "" }

type webhookPayload struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	ScanID    string         `json:"scan_id,omitempty"`
	Repo      string         `json:"repo,omitempty"`
	URL       string         `json:"url,omitempty"`
	Timestamp string         `json:"ts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (w *WebhookChannel) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(webhookPayload{
		Type:      evt.Type,
		Title:     evt.Title,
		Body:      evt.Body,
		Severity:  evt.Severity,
		ScanID:    evt.ScanID,
		Repo:      evt.RepoURL,
		URL:       evt.URL,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:  evt.Metadata,
	})
	if err != nil {
		return err
	}
	var header map[string]string
	if w.secret != "" {
		header = map[string]string{SignatureHeader: Sign(w.secret, body)}
	}
	if err := postJSON(ctx, w.client, w.url, body, header); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
