package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nhle/mailsift/internal/model"
)

// WebhookEventType is the type field of every webhook payload.
const WebhookEventType = "INTERESTED_EMAIL"

// Webhook POSTs a JSON summary of each message to a URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, client *http.Client, logger *slog.Logger) *Webhook {
	return &Webhook{url: url, client: client, logger: logger}
}

// WebhookPayload is the JSON body sent to the webhook.
type WebhookPayload struct {
	Type  string       `json:"type"`
	Email WebhookEmail `json:"email"`
}

// WebhookEmail summarizes the message in a WebhookPayload.
type WebhookEmail struct {
	ID      int64     `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

// Notify posts m to the webhook. Failures are logged.
func (w *Webhook) Notify(ctx context.Context, m model.Message) {
	if err := w.post(ctx, m); err != nil {
		w.logger.Error("sending webhook notification", "id", m.ID, "error", err)
		return
	}
	w.logger.Info("webhook notification sent", "id", m.ID)
}

func (w *Webhook) post(ctx context.Context, m model.Message) error {
	bodyBytes, err := json.Marshal(WebhookPayload{
		Type: WebhookEventType,
		Email: WebhookEmail{
			ID:      m.ID,
			From:    m.From,
			Subject: m.Subject,
			Date:    m.Date,
		},
	})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
