// Package notify forwards messages to external channels. Delivery is best
// effort: failures are logged and never returned to the caller.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nhle/mailsift/internal/model"
)

// requestTimeout bounds a single delivery.
const requestTimeout = 10 * time.Second

// Notifier delivers a message somewhere outside the process.
type Notifier interface {
	Notify(ctx context.Context, m model.Message)
}

// Multi fans a message out to every notifier in order.
type Multi []Notifier

// Notify calls every notifier.
func (m Multi) Notify(ctx context.Context, msg model.Message) {
	for _, n := range m {
		n.Notify(ctx, msg)
	}
}

// Nop drops every message, logging that no channel is configured.
type Nop struct {
	Logger *slog.Logger
}

// Notify logs the skipped message at debug level.
func (n Nop) Notify(_ context.Context, m model.Message) {
	if n.Logger != nil {
		n.Logger.Debug("no notification channel configured, skipping",
			"id", m.ID, "from", m.From, "subject", m.Subject)
	}
}

// Config lists the configured channels. Empty fields disable a channel.
type Config struct {
	SlackToken   string
	SlackChannel string
	WebhookURL   string

	// SlackURL overrides the Slack API endpoint.
	SlackURL string

	HTTPClient *http.Client
}

// New returns a notifier for every configured channel.
func New(cfg Config, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	var out Multi
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		out = append(out, NewSlack(cfg.SlackToken, cfg.SlackChannel, cfg.SlackURL, client, logger))
	} else {
		logger.Info("Slack not configured, Slack notifications disabled")
	}
	if cfg.WebhookURL != "" {
		out = append(out, NewWebhook(cfg.WebhookURL, client, logger))
	} else {
		logger.Info("webhook not configured, webhook notifications disabled")
	}

	if len(out) == 0 {
		return Nop{Logger: logger}
	}
	return out
}
