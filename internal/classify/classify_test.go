package classify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nhle/mailsift/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		in   string
		want model.Category
		ok   bool
	}{
		{"INTERESTED", model.CategoryInterested, true},
		{" spam\n", model.CategorySpam, true},
		{"\"MEETING_BOOKED\".", model.CategoryMeetingBooked, true},
		{"Category: NOT_INTERESTED", model.CategoryNotInterested, true},
		{"This is OUT_OF_OFFICE mail", model.CategoryOutOfOffice, true},
		{"no idea", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseLabel(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseLabel(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNew_StaticAndErrors(t *testing.T) {
	c, err := New(Config{Provider: "static", Fallback: model.CategorySpam}, quietLogger())
	if err != nil {
		t.Fatalf("New(static) error: %v", err)
	}
	if got := c.Classify(context.Background(), "s", "b"); got != model.CategorySpam {
		t.Errorf("static Classify() = %q, want SPAM", got)
	}

	// A model provider without a key degrades to static.
	c, err = New(Config{Provider: "anthropic", Fallback: model.CategoryInterested}, quietLogger())
	if err != nil {
		t.Fatalf("New(anthropic, no key) error: %v", err)
	}
	if _, ok := c.(Static); !ok {
		t.Errorf("New(anthropic, no key) = %T, want Static", c)
	}

	if _, err := New(Config{Provider: "oracle", Fallback: model.CategoryInterested}, nil); err == nil {
		t.Error("New(unknown provider) expected error")
	}
	if _, err := New(Config{Provider: "static", Fallback: "MAYBE"}, nil); err == nil {
		t.Error("New(invalid fallback) expected error")
	}
}

func TestAnthropic_Classify(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key-1" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"MEETING_BOOKED"}],"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	c, err := New(Config{
		Provider: "anthropic",
		APIKey:   "key-1",
		BaseURL:  srv.URL,
		Fallback: model.CategoryInterested,
	}, quietLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	got := c.Classify(context.Background(), "Call booked", "See you Tuesday at 3pm")
	if got != model.CategoryMeetingBooked {
		t.Errorf("Classify() = %q, want MEETING_BOOKED", got)
	}
	if gotReq.Model != anthropicDefaultModel {
		t.Errorf("model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 1 || !strings.Contains(gotReq.Messages[0].Content, "Subject: Call booked") {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
	if !strings.Contains(gotReq.System, "OUT_OF_OFFICE") {
		t.Errorf("system prompt does not list the labels: %q", gotReq.System)
	}
}

func TestOpenAI_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-2" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"SPAM"}}]}`)
	}))
	defer srv.Close()

	c, err := New(Config{
		Provider: "openai",
		APIKey:   "key-2",
		BaseURL:  srv.URL,
		Fallback: model.CategoryInterested,
	}, quietLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if got := c.Classify(context.Background(), "WIN", "click"); got != model.CategorySpam {
		t.Errorf("Classify() = %q, want SPAM", got)
	}
}

func TestClassify_FallsBack(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"type":"api_error","message":"overloaded"}}`)
		}},
		{"garbage json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `not json`)
		}},
		{"unknown label", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"MAYBE"}]}`)
		}},
		{"no content", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"content":[]}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, err := New(Config{
				Provider: "anthropic",
				APIKey:   "k",
				BaseURL:  srv.URL,
				Fallback: model.CategoryOutOfOffice,
			}, quietLogger())
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if got := c.Classify(context.Background(), "s", "b"); got != model.CategoryOutOfOffice {
				t.Errorf("Classify() = %q, want fallback OUT_OF_OFFICE", got)
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c, _ := New(Config{Provider: "openai", APIKey: "k", BaseURL: url, Fallback: model.CategorySpam}, quietLogger())
		if got := c.Classify(context.Background(), "s", "b"); got != model.CategorySpam {
			t.Errorf("Classify() = %q, want fallback SPAM", got)
		}
	})
}
