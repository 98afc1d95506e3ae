// Package account manages configured mailbox accounts. Connection
// parameters are kept in the store; passwords are kept in the keyring.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nhle/mailsift/internal/credential"
	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/store"
)

// ErrInvalid is returned when account parameters fail validation.
var ErrInvalid = errors.New("invalid account")

// Registry is the account CRUD surface used by the API, the CLI and the
// session manager.
type Registry struct {
	store  store.AccountStore
	vault  *credential.Vault
	logger *slog.Logger
}

// NewRegistry creates a registry over the given store and vault.
func NewRegistry(s store.AccountStore, v *credential.Vault, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: s, vault: v, logger: logger}
}

// Validate checks that all connection parameters are present and that the
// port is numeric.
func Validate(p model.AccountParams) error {
	var missing []string
	if strings.TrimSpace(p.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(p.Port) == "" {
		missing = append(missing, "port")
	}
	if strings.TrimSpace(p.Username) == "" {
		missing = append(missing, "username")
	}
	if p.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}

	port, err := strconv.Atoi(strings.TrimSpace(p.Port))
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: port %q is not a valid port number", ErrInvalid, p.Port)
	}
	return nil
}

// Add registers a new account and returns it with its assigned ID.
func (r *Registry) Add(ctx context.Context, p model.AccountParams) (*model.Account, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	a := &model.Account{
		Host:     strings.TrimSpace(p.Host),
		Port:     strings.TrimSpace(p.Port),
		Username: strings.TrimSpace(p.Username),
		Password: p.Password,
	}
	if err := r.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	if err := r.vault.Set(a.ID, p.Password); err != nil {
		// Do not leave an account behind that can never connect.
		_ = r.store.DeleteAccount(ctx, a.ID)
		return nil, fmt.Errorf("storing password for account %d: %w", a.ID, err)
	}

	return a, nil
}

// Get returns one account with its password filled in.
func (r *Registry) Get(ctx context.Context, id int64) (*model.Account, error) {
	a, err := r.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	a.Password, err = r.vault.Get(id)
	if err != nil {
		return nil, fmt.Errorf("loading password for account %d: %w", id, err)
	}
	return a, nil
}

// List returns every account with its password filled in. Accounts whose
// password cannot be loaded are still returned, with an empty password,
// so that the session layer reports them as failed logins rather than
// silently dropping them.
func (r *Registry) List(ctx context.Context) ([]model.Account, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		pw, err := r.vault.Get(accounts[i].ID)
		if err != nil {
			r.logger.Warn("loading account password", "account_id", accounts[i].ID, "error", err)
			continue
		}
		accounts[i].Password = pw
	}
	return accounts, nil
}

// Remove deletes an account and its stored password.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	if err := r.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	if err := r.vault.Delete(id); err != nil {
		return fmt.Errorf("removing password for account %d: %w", id, err)
	}
	return nil
}
