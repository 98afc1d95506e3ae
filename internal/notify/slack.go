package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nhle/mailsift/internal/model"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// slackBodyLimit is how many characters of the body a Slack message shows.
const slackBodyLimit = 500

// Slack posts messages to a channel with chat.postMessage.
type Slack struct {
	token   string
	channel string
	url     string
	client  *http.Client
	logger  *slog.Logger
}

// NewSlack creates a Slack notifier. An empty url selects the public API.
func NewSlack(token, channel, url string, client *http.Client, logger *slog.Logger) *Slack {
	if url == "" {
		url = slackPostMessageURL
	}
	return &Slack{token: token, channel: channel, url: url, client: client, logger: logger}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackRequest struct {
	Channel string       `json:"channel"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Notify posts m to the channel. Failures are logged.
func (s *Slack) Notify(ctx context.Context, m model.Message) {
	if err := s.post(ctx, m); err != nil {
		s.logger.Error("sending Slack notification", "id", m.ID, "error", err)
		return
	}
	s.logger.Info("Slack notification sent", "id", m.ID, "channel", s.channel)
}

func (s *Slack) post(ctx context.Context, m model.Message) error {
	bodyBytes, err := json.Marshal(slackRequest{
		Channel: s.channel,
		Text:    "New Interested Lead Email: " + m.Subject,
		Blocks:  slackBlocks(m),
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling Slack API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result slackResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack API error: %s", result.Error)
	}
	return nil
}

func slackBlocks(m model.Message) []slackBlock {
	return []slackBlock{
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "*New Interested Lead Email*"}},
		{Type: "section", Fields: []slackText{
			{Type: "mrkdwn", Text: "*From:*\n" + m.From},
			{Type: "mrkdwn", Text: "*Subject:*\n" + m.Subject},
		}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "*Body:*\n" + truncate(m.Body, slackBodyLimit)}},
	}
}

// truncate shortens s to limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
