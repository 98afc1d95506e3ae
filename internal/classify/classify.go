// Package classify assigns one of the fixed categories to a message.
// Classifiers never fail: any error degrades to a configured fallback.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/mailsift/internal/model"
)

// Providers accepted by New.
const (
	ProviderStatic    = "static"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// requestTimeout bounds a single classification call.
const requestTimeout = 30 * time.Second

// maxBodyChars caps how much of a message body is sent for
// classification.
const maxBodyChars = 4000

// Classifier maps a subject and body to a category. Implementations never
// fail; on internal error they return a safe default.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) model.Category
}

// Static always returns the same category. It is used when no provider is
// configured.
type Static struct {
	Category model.Category
}

// Classify returns s.Category.
func (s Static) Classify(context.Context, string, string) model.Category {
	return s.Category
}

// completer sends one system+user prompt to a model and returns its text.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

// llm is a Classifier backed by a language model API.
type llm struct {
	provider string
	api      completer
	fallback model.Category
	logger   *slog.Logger
}

// Classify asks the model for a label. Transport errors and unusable
// answers yield the fallback category.
func (c *llm) Classify(ctx context.Context, subject, body string) model.Category {
	text, err := c.api.complete(ctx, systemPrompt(), userPrompt(subject, body))
	if err != nil {
		c.logger.Warn("classification failed, using fallback",
			"provider", c.provider, "fallback", c.fallback, "error", err)
		return c.fallback
	}

	category, ok := parseLabel(text)
	if !ok {
		c.logger.Warn("unrecognized classification, using fallback",
			"provider", c.provider, "answer", text, "fallback", c.fallback)
		return c.fallback
	}
	return category
}

// Config selects and configures a classifier.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	Fallback model.Category

	// BaseURL overrides the provider's API endpoint.
	BaseURL string

	HTTPClient *http.Client
}

// New returns the classifier selected by cfg. A model provider without an
// API key falls back to Static with the fallback category.
func New(cfg Config, logger *slog.Logger) (Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Fallback.Valid() {
		return nil, fmt.Errorf("invalid fallback category %q", cfg.Fallback)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	var api completer
	switch strings.ToLower(cfg.Provider) {
	case ProviderStatic, "":
		return Static{Category: cfg.Fallback}, nil
	case ProviderAnthropic:
		api = newAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL, client)
	case ProviderOpenAI:
		api = newOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, client)
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}

	if cfg.APIKey == "" {
		logger.Warn("classifier API key not configured, using static classification",
			"provider", cfg.Provider, "category", cfg.Fallback)
		return Static{Category: cfg.Fallback}, nil
	}

	return &llm{
		provider: strings.ToLower(cfg.Provider),
		api:      api,
		fallback: cfg.Fallback,
		logger:   logger,
	}, nil
}

func systemPrompt() string {
	names := make([]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		names = append(names, string(c))
	}
	return "Categorize the email into one of these categories: " +
		strings.Join(names, ", ") + ". " +
		"Respond with just the category name. " +
		"Base your decision on both subject and body content."
}

func userPrompt(subject, body string) string {
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	return "Subject: " + subject + "\n\nBody: " + body
}

// parseLabel extracts a category from a model answer. It accepts an exact
// label and tolerates surrounding punctuation or prose.
func parseLabel(text string) (model.Category, bool) {
	if c, err := model.ParseCategory(strings.Trim(text, " \t\r\n.\"'`*")); err == nil {
		return c, true
	}

	upper := strings.ToUpper(text)
	// NOT_INTERESTED contains INTERESTED, so longer labels are tried first.
	for _, c := range []model.Category{
		model.CategoryNotInterested,
		model.CategoryMeetingBooked,
		model.CategoryOutOfOffice,
		model.CategoryInterested,
		model.CategorySpam,
	} {
		if strings.Contains(upper, string(c)) {
			return c, true
		}
	}
	return "", false
}
