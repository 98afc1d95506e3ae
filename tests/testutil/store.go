package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailsift/internal/account"
	"github.com/nhle/mailsift/internal/credential"
	"github.com/nhle/mailsift/internal/logging"
	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTestRegistry creates an account registry over s backed by an
// in-memory keyring.
func NewTestRegistry(t *testing.T, s store.AccountStore) *account.Registry {
	t.Helper()
	return account.NewRegistry(s, credential.NewMemoryVault(), logging.Discard())
}

// MustAddAccount registers an account or fails the test.
func MustAddAccount(t *testing.T, r *account.Registry, username string) *model.Account {
	t.Helper()

	a, err := r.Add(context.Background(), model.AccountParams{
		Host:     "imap.example.com",
		Port:     "993",
		Username: username,
		Password: "secret-" + username,
	})
	if err != nil {
		t.Fatalf("adding account %s: %v", username, err)
	}
	return a
}

// MustInsertMessage stores a message or fails the test.
func MustInsertMessage(t *testing.T, s store.MessageStore, m model.Message) *model.Message {
	t.Helper()

	if m.Folder == "" {
		m.Folder = "INBOX"
	}
	if m.Date.IsZero() {
		m.Date = time.Now().UTC().Truncate(time.Millisecond)
	}

	stored, _, err := s.InsertMessage(context.Background(), m)
	if err != nil {
		t.Fatalf("inserting message %s: %v", m.MessageID, err)
	}
	return stored
}
