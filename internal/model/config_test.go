package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Sync.Window != 30*24*time.Hour {
		t.Errorf("Sync.Window = %s, want 720h", cfg.Sync.Window)
	}
	if cfg.Sync.Folder != "INBOX" {
		t.Errorf("Sync.Folder = %q, want %q", cfg.Sync.Folder, "INBOX")
	}
	if cfg.Database.Path != DefaultDatabasePath {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, DefaultDatabasePath)
	}
	if cfg.Classifier.Fallback != string(CategoryInterested) {
		t.Errorf("Classifier.Fallback = %q, want %q", cfg.Classifier.Fallback, CategoryInterested)
	}
	got := cfg.NotifyCategories()
	if len(got) != 1 || got[0] != CategoryInterested {
		t.Errorf("NotifyCategories() = %v, want [INTERESTED]", got)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  path: /var/lib/mailsift/mail.db
sync:
  window: 168h
  timeout: 10s
  folder: Archive
notify:
  categories: [INTERESTED, MEETING_BOOKED]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Database.Path != "/var/lib/mailsift/mail.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Sync.Window != 7*24*time.Hour {
		t.Errorf("Sync.Window = %s, want 168h", cfg.Sync.Window)
	}
	if cfg.Sync.Timeout != 10*time.Second {
		t.Errorf("Sync.Timeout = %s, want 10s", cfg.Sync.Timeout)
	}
	if cfg.Sync.Folder != "Archive" {
		t.Errorf("Sync.Folder = %q, want %q", cfg.Sync.Folder, "Archive")
	}
	if cfg.Sync.BatchSize != 200 {
		t.Errorf("Sync.BatchSize = %d, want default 200", cfg.Sync.BatchSize)
	}
	if n := len(cfg.NotifyCategories()); n != 2 {
		t.Errorf("NotifyCategories() has %d entries, want 2", n)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MAILSIFT_SYNC_WINDOW", "48h")
	t.Setenv("MAILSIFT_HTTP_ADDR", ":8080")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Sync.Window != 48*time.Hour {
		t.Errorf("Sync.Window = %s, want 48h", cfg.Sync.Window)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, ":8080")
	}
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() should return defaults for missing file, got error: %v", err)
	}
	if cfg.HTTP.Addr != ":5000" {
		t.Errorf("HTTP.Addr = %q, want default %q", cfg.HTTP.Addr, ":5000")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad fallback", "classifier:\n  fallback: MAYBE\n", "classifier.fallback"},
		{"bad notify category", "notify:\n  categories: [NOPE]\n", "notify.categories"},
		{"zero batch", "sync:\n  batch_size: 0\n", "sync.batch_size"},
		{"malformed yaml", "sync: [unterminated\n", "reading config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("LoadConfig() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	cfg.HTTP.Addr = ":7070"
	cfg.Notify.Slack.Channel = "C123"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() after save error: %v", err)
	}
	if loaded.HTTP.Addr != ":7070" {
		t.Errorf("HTTP.Addr = %q, want %q", loaded.HTTP.Addr, ":7070")
	}
	if loaded.Notify.Slack.Channel != "C123" {
		t.Errorf("Slack.Channel = %q, want %q", loaded.Notify.Slack.Channel, "C123")
	}
	if loaded.Sync.Window != cfg.Sync.Window {
		t.Errorf("Sync.Window = %s, want %s", loaded.Sync.Window, cfg.Sync.Window)
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"INTERESTED", CategoryInterested, false},
		{" spam ", CategorySpam, false},
		{"out_of_office", CategoryOutOfOffice, false},
		{"", "", true},
		{"URGENT", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCategory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
