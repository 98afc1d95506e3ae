package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override,
// e.g. MAILSIFT_SYNC_WINDOW overrides sync.window.
const EnvPrefix = "MAILSIFT"

// DefaultDatabasePath is where the SQLite database lives unless
// configured otherwise.
const DefaultDatabasePath = "~/.local/share/mailsift/mailsift.db"

// DatabaseConfig selects where messages and accounts are stored.
type DatabaseConfig struct {
	// Path is a SQLite file path, or ":memory:" for a process-local store.
	// A leading "~/" is expanded to the home directory.
	Path string `mapstructure:"path" yaml:"path"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SyncConfig controls mailbox sessions.
type SyncConfig struct {
	// Window bounds the initial backfill to messages newer than now-Window.
	Window time.Duration `mapstructure:"window" yaml:"window"`

	// Folder is the mailbox folder that is backfilled and watched.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// Timeout bounds every single remote call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// BatchSize is the number of sequence numbers per backfill FETCH.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// TLS selects implicit TLS; false uses STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	ReconnectMin time.Duration `mapstructure:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`
}

// CredentialsConfig selects the keyring backend for account secrets.
type CredentialsConfig struct {
	// Backend is "auto", "file" or "memory".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// FileDir is used by the file backend.
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`

	// FilePassword encrypts the file backend.
	FilePassword string `mapstructure:"file_password" yaml:"file_password"`
}

// ClassifierConfig selects and configures the categorization service.
type ClassifierConfig struct {
	// Provider is "anthropic", "openai" or "static".
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`

	// Fallback is returned whenever classification fails.
	Fallback string `mapstructure:"fallback" yaml:"fallback"`
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	Token   string `mapstructure:"token" yaml:"token"`
	Channel string `mapstructure:"channel" yaml:"channel"`
}

// WebhookConfig holds generic webhook notification settings.
type WebhookConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NotifyConfig controls which categories trigger notifications and where
// they are delivered.
type NotifyConfig struct {
	Categories []string      `mapstructure:"categories" yaml:"categories"`
	Slack      SlackConfig   `mapstructure:"slack" yaml:"slack"`
	Webhook    WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
	Sync        SyncConfig        `mapstructure:"sync" yaml:"sync"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Classifier  ClassifierConfig  `mapstructure:"classifier" yaml:"classifier"`
	Notify      NotifyConfig      `mapstructure:"notify" yaml:"notify"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`

	// DevMode seeds sample data and skips all IMAP activity.
	DevMode bool `mapstructure:"dev_mode" yaml:"dev_mode"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsift/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsift", "config.yaml")
}

// defaults lists every key with its default value. Registering each key
// with viper is also what lets AutomaticEnv bind it during Unmarshal.
var defaults = map[string]any{
	"database.path":             DefaultDatabasePath,
	"http.addr":                 ":5000",
	"sync.window":               30 * 24 * time.Hour,
	"sync.folder":               "INBOX",
	"sync.timeout":              30 * time.Second,
	"sync.batch_size":           200,
	"sync.tls":                  true,
	"sync.reconnect_min":        5 * time.Second,
	"sync.reconnect_max":        5 * time.Minute,
	"credentials.backend":       "auto",
	"credentials.file_dir":      "~/.config/mailsift/credentials",
	"credentials.file_password": "mailsift-file-key",
	"classifier.provider":       "static",
	"classifier.model":          "",
	"classifier.api_key":        "",
	"classifier.fallback":       string(CategoryInterested),
	"notify.categories":         []string{string(CategoryInterested)},
	"notify.slack.token":        "",
	"notify.slack.channel":      "",
	"notify.webhook.url":        "",
	"log.level":                 "info",
	"log.format":                "text",
	"dev_mode":                  false,
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// with MAILSIFT_* environment variables taking precedence. A missing file
// yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that viper cannot check by type alone.
func (c *AppConfig) Validate() error {
	if c.Sync.Window <= 0 {
		return fmt.Errorf("sync.window must be positive, got %s", c.Sync.Window)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive, got %s", c.Sync.Timeout)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.ReconnectMin <= 0 || c.Sync.ReconnectMax < c.Sync.ReconnectMin {
		return fmt.Errorf(
			"sync.reconnect_min/max out of range: %s/%s",
			c.Sync.ReconnectMin, c.Sync.ReconnectMax,
		)
	}
	if _, err := ParseCategory(c.Classifier.Fallback); err != nil {
		return fmt.Errorf("classifier.fallback: %w", err)
	}
	for _, name := range c.Notify.Categories {
		if _, err := ParseCategory(name); err != nil {
			return fmt.Errorf("notify.categories: %w", err)
		}
	}
	return nil
}

// NotifyCategories returns the parsed notify.categories set.
func (c *AppConfig) NotifyCategories() []Category {
	out := make([]Category, 0, len(c.Notify.Categories))
	for _, name := range c.Notify.Categories {
		if cat, err := ParseCategory(name); err == nil {
			out = append(out, cat)
		}
	}
	return out
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("http", cfg.HTTP)
	v.Set("sync", cfg.Sync)
	v.Set("credentials", cfg.Credentials)
	v.Set("classifier", cfg.Classifier)
	v.Set("notify", cfg.Notify)
	v.Set("log", cfg.Log)
	v.Set("dev_mode", cfg.DevMode)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
