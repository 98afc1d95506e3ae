package credential

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/99designs/keyring"
)

const serviceName = "mailsift"

// ErrNotFound is returned when no secret is stored under a key.
var ErrNotFound = errors.New("credential not found")

// Backend names accepted by Open.
const (
	BackendAuto   = "auto"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Options configures which keyring backend Open uses.
type Options struct {
	Backend      string
	FileDir      string
	FilePassword string
}

// Vault stores account secrets in a keyring, keyed by account id.
type Vault struct {
	ring keyring.Keyring
}

// NewVault wraps an already opened keyring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

// NewMemoryVault returns a vault backed by a process-local keyring.
func NewMemoryVault() *Vault {
	return NewVault(keyring.NewArrayKeyring(nil))
}

// Open returns a vault on the configured keyring backend.
func Open(opts Options) (*Vault, error) {
	if opts.Backend == BackendMemory {
		return NewMemoryVault(), nil
	}

	allowed := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	switch opts.Backend {
	case BackendAuto, "":
	case BackendFile:
		allowed = []keyring.BackendType{keyring.FileBackend}
	default:
		return nil, fmt.Errorf("unknown credentials backend %q", opts.Backend)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          allowed,
		FileDir:                  opts.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(opts.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewVault(ring), nil
}

// accountKey is the keyring key under which an account's password lives.
func accountKey(accountID int64) string {
	return "imap-" + strconv.FormatInt(accountID, 10)
}

// Get retrieves the password of an account.
func (v *Vault) Get(accountID int64) (string, error) {
	key := accountKey(accountID)
	item, err := v.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores the password of an account.
func (v *Vault) Set(accountID int64, secret string) error {
	key := accountKey(accountID)
	err := v.ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(secret),
		Label:       "mailsift IMAP account " + strconv.FormatInt(accountID, 10),
		Description: "IMAP password",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes the password of an account. A missing entry is not an
// error.
func (v *Vault) Delete(accountID int64) error {
	key := accountKey(accountID)
	err := v.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
