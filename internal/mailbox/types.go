package mailbox

import (
	"context"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsift/internal/model"
)

// Fetched is one message as returned by a FETCH, before conversion.
type Fetched struct {
	SeqNum       uint32
	UID          uint32
	Envelope     *imap.Envelope
	InternalDate time.Time

	// Body is the raw RFC 5322 message, or nil if the server did not
	// return it.
	Body []byte
}

// Update announces that messages From..To (sequence numbers, inclusive)
// were added to the selected folder.
type Update struct {
	From uint32
	To   uint32
}

// Client is one authenticated connection to a remote mailbox.
type Client interface {
	// Select opens folder and returns the number of messages in it.
	Select(ctx context.Context, folder string) (uint32, error)

	// Fetch returns messages with sequence numbers from..to inclusive.
	Fetch(ctx context.Context, from, to uint32) ([]Fetched, error)

	// Watch starts listening for new messages on the selected folder. The
	// returned channel is closed when the connection ends.
	Watch(ctx context.Context) (<-chan Update, error)

	// Logout ends the session and closes the connection.
	Logout(ctx context.Context) error
}

// Dialer opens authenticated connections for an account.
type Dialer interface {
	Dial(ctx context.Context, a model.Account) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, a model.Account) (Client, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, a model.Account) (Client, error) {
	return f(ctx, a)
}
