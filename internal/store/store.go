package store

import (
	"context"
	"errors"

	"github.com/nhle/mailsift/internal/model"
)

// ErrNotFound is returned when an operation references an unknown id.
var ErrNotFound = errors.New("not found")

// MessageFilter controls filtering and pagination for message queries.
// Nil fields are not filtered on. Results are ordered newest first.
type MessageFilter struct {
	AccountID *string
	Folder    *string
	Category  *model.Category

	// Query matches case-insensitively against subject, body, from and to.
	Query *string

	Limit  int
	Offset int
}

// AccountStore persists the non-secret part of mailbox accounts.
type AccountStore interface {
	// CreateAccount inserts a and sets its ID and CreatedAt.
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	DeleteAccount(ctx context.Context, id int64) error
}

// MessageStore persists ingested messages.
type MessageStore interface {
	// InsertMessage stores m and assigns its ID. When a message with the
	// same (account, message id, folder) already exists, nothing is
	// written and the existing row is returned with created == false.
	InsertMessage(ctx context.Context, m model.Message) (msg *model.Message, created bool, err error)

	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error)

	// SetCategory updates the category of a message and returns it.
	SetCategory(ctx context.Context, id int64, c model.Category) (*model.Message, error)
}

// Store is the full persistence interface.
type Store interface {
	AccountStore
	MessageStore
	Close() error
}
