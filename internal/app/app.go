// Package app wires configuration into the running service: store,
// keyring, account registry, session manager, triage and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nhle/mailsift/internal/account"
	"github.com/nhle/mailsift/internal/api"
	"github.com/nhle/mailsift/internal/classify"
	"github.com/nhle/mailsift/internal/credential"
	"github.com/nhle/mailsift/internal/mailbox"
	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/notify"
	"github.com/nhle/mailsift/internal/store"
	mailsync "github.com/nhle/mailsift/internal/sync"
	"github.com/nhle/mailsift/internal/triage"
)

// shutdownTimeout bounds the graceful HTTP shutdown and the session
// teardown that follows it.
const shutdownTimeout = 10 * time.Second

// App holds the long-lived components of one process.
type App struct {
	cfg    *model.AppConfig
	logger *slog.Logger

	store    *store.SQLiteStore
	accounts *account.Registry
	sessions *mailsync.Manager
	triage   *triage.Service
	handler  http.Handler
}

// New builds every component from cfg. No connection is opened and no
// session is started until Run. In dev mode no session manager is built
// and both the database and secrets stay in memory.
func New(cfg *model.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbPath := cfg.Database.Path
	if cfg.DevMode {
		dbPath = ":memory:"
	}
	s, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}

	backend := cfg.Credentials.Backend
	if cfg.DevMode {
		backend = credential.BackendMemory
	}
	vault, err := credential.Open(credential.Options{
		Backend:      backend,
		FileDir:      cfg.Credentials.FileDir,
		FilePassword: cfg.Credentials.FilePassword,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	registry := account.NewRegistry(s, vault, logger)

	fallback, err := model.ParseCategory(cfg.Classifier.Fallback)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("classifier fallback: %w", err)
	}
	classifier, err := classify.New(classify.Config{
		Provider: cfg.Classifier.Provider,
		Model:    cfg.Classifier.Model,
		APIKey:   cfg.Classifier.APIKey,
		Fallback: fallback,
	}, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	notifier := notify.New(notify.Config{
		SlackToken:   cfg.Notify.Slack.Token,
		SlackChannel: cfg.Notify.Slack.Channel,
		WebhookURL:   cfg.Notify.Webhook.URL,
	}, logger)

	svc := triage.New(s, classifier, notifier, cfg.NotifyCategories(), logger)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		accounts: registry,
		triage:   svc,
	}

	// A nil *Manager must not reach the API as a non-nil interface.
	var sessions api.Sessions
	if !cfg.DevMode {
		dialer := &mailbox.IMAPDialer{
			TLS:     cfg.Sync.TLS,
			Timeout: cfg.Sync.Timeout,
			Logger:  logger,
		}
		a.sessions = mailsync.New(registry, dialer, s, mailsync.Config{
			Window:       cfg.Sync.Window,
			ReconnectMin: cfg.Sync.ReconnectMin,
			ReconnectMax: cfg.Sync.ReconnectMax,
			Session: mailbox.Options{
				Folder:    cfg.Sync.Folder,
				BatchSize: cfg.Sync.BatchSize,
			},
		}, logger)
		sessions = a.sessions
	}

	a.handler = api.NewServer(registry, sessions, s, svc, logger)
	return a, nil
}

// openStore opens the SQLite database, creating the parent directory of
// a file path.
func openStore(path string) (*store.SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path != "" && path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if strings.HasPrefix(path, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, path[2:])
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// Accounts returns the account registry.
func (a *App) Accounts() *account.Registry { return a.accounts }

// Store returns the message and account store.
func (a *App) Store() store.Store { return a.store }

// Triage returns the categorization service.
func (a *App) Triage() *triage.Service { return a.triage }

// Sessions returns the session manager, nil in dev mode.
func (a *App) Sessions() *mailsync.Manager { return a.sessions }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.handler }

// Run seeds sample data (dev mode) or starts a session for every account,
// then serves the HTTP API on ln until ctx is done. Accounts that fail to
// start are logged and do not stop the server.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	if a.cfg.DevMode {
		if err := a.Seed(ctx); err != nil {
			return err
		}
		a.logger.Info("dev mode: skipping IMAP sessions")
	} else if err := a.sessions.StartAll(ctx); err != nil {
		a.logger.Error("some accounts failed to start", "error", err)
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", ln.Addr().String())
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown http", "error", err)
	}
	return nil
}

// ListenAndRun listens on the configured address and calls Run.
func (a *App) ListenAndRun(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.Run(ctx, ln)
}

// Close disconnects every session and closes the store.
func (a *App) Close() error {
	var errs []error
	if a.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.sessions.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing sessions: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}
