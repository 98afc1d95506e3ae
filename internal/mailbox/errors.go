package mailbox

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by operations that need an open session.
	ErrNotConnected = errors.New("session is not connected")

	// ErrNotBackfilled is returned when Watch is called before a backfill
	// has completed on the current connection.
	ErrNotBackfilled = errors.New("watch requires a completed backfill")

	// ErrConnectionLost is recorded when the server side of a watched
	// session goes away.
	ErrConnectionLost = errors.New("connection lost")
)

// ConnectionError indicates that establishing or tearing down the remote
// session failed, either in the network layer or during authentication.
type ConnectionError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (account %s): %s: %v", e.AccountID, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// SyncError indicates that the folder could not be opened, that the
// message enumeration failed, or that the watch could not be registered.
// It is fatal for the call that returned it only.
type SyncError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync error (account %s): %s: %v", e.AccountID, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsSyncError reports whether err (or any error in its chain) is a
// SyncError.
func IsSyncError(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr)
}
