// Package mailbox manages one long-lived IMAP connection per account: a
// bounded backfill of the selected folder followed by live ingestion of
// new mail into the message store.
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/store"
)

// DefaultFolder is the folder sessions backfill and watch unless
// configured otherwise.
const DefaultFolder = "INBOX"

// defaultBatchSize is the number of sequence numbers per backfill FETCH.
const defaultBatchSize = 200

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateBackfilling
	StateWatching
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateBackfilling:
		return "backfilling"
	case StateWatching:
		return "watching"
	default:
		return "unknown"
	}
}

// BackfillResult counts what a backfill did with each enumerated message.
type BackfillResult struct {
	Seen       int `json:"seen"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Options tunes a Session. Zero values select the defaults.
type Options struct {
	Folder    string
	BatchSize int
	Logger    *slog.Logger

	// Now is the clock used for the backfill window.
	Now func() time.Time
}

// Session is the connection of one account to its remote mailbox.
// Connect, Backfill, Watch and Disconnect are expected to be called in
// that order by a single owner; State, Done and Err are safe to call
// from anywhere.
type Session struct {
	id        string
	account   model.Account
	accountID string
	dialer    Dialer
	store     store.MessageStore
	folder    string
	batchSize int
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	state      State
	backfilled bool
	client     Client
	stopWatch  context.CancelFunc
	watchDone  chan struct{}
	done       chan struct{}
	err        error
}

// NewSession creates a disconnected session for account a.
func NewSession(
	a model.Account,
	dialer Dialer,
	s store.MessageStore,
	opts Options,
) *Session {
	if opts.Folder == "" {
		opts.Folder = DefaultFolder
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	id := uuid.NewString()
	accountID := strconv.FormatInt(a.ID, 10)
	done := make(chan struct{})
	close(done)

	return &Session{
		id:        id,
		account:   a,
		accountID: accountID,
		dialer:    dialer,
		store:     s,
		folder:    opts.Folder,
		batchSize: opts.BatchSize,
		logger:    opts.Logger.With("account_id", accountID, "session", id),
		now:       opts.Now,
		done:      done,
	}
}

// ID returns the unique id of this session.
func (s *Session) ID() string { return s.id }

// AccountID returns the id of the account, as stored on messages.
func (s *Session) AccountID() string { return s.accountID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel that is closed when the session is no longer
// connected, whether by Disconnect or by losing the connection.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err reports why the session ended. It is nil while connected and after
// a Disconnect.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Connect dials and authenticates. On failure the session stays
// disconnected and a *ConnectionError is returned. Connecting an already
// connected session is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	if s.State() != StateDisconnected {
		return nil
	}

	client, err := s.dialer.Dial(ctx, s.account)
	if err != nil {
		return &ConnectionError{AccountID: s.accountID, Op: "connect", Err: err}
	}

	s.mu.Lock()
	s.client = client
	s.state = StateConnected
	s.backfilled = false
	s.err = nil
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("connected", "addr", s.account.Address(), "username", s.account.Username)
	return nil
}

// Disconnect stops the watch and logs out. It is idempotent. The session
// is disconnected afterwards even when logging out fails, in which case a
// *ConnectionError is returned.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	client := s.client
	stop, watchDone := s.stopWatch, s.watchDone
	s.client = nil
	s.stopWatch = nil
	s.watchDone = nil
	s.state = StateDisconnected
	s.backfilled = false
	s.err = nil
	done := s.done
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	err := client.Logout(ctx)
	if watchDone != nil {
		<-watchDone
	}
	close(done)

	if err != nil {
		s.logger.Warn("disconnect failed", "error", err)
		return &ConnectionError{AccountID: s.accountID, Op: "disconnect", Err: err}
	}
	s.logger.Info("disconnected")
	return nil
}

// Backfill opens the folder and ingests every message dated within
// window of now. Messages older than that are skipped. A message that
// cannot be stored is logged and counted as failed; it does not end the
// backfill. Failure to open the folder or to fetch returns a *SyncError.
func (s *Session) Backfill(ctx context.Context, window time.Duration) (BackfillResult, error) {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return BackfillResult{}, &SyncError{
			AccountID: s.accountID,
			Op:        "backfill",
			Err:       fmt.Errorf("%w (state %s)", ErrNotConnected, state),
		}
	}
	s.state = StateBackfilling
	client := s.client
	s.mu.Unlock()

	result, err := s.backfill(ctx, client, window)

	s.mu.Lock()
	if s.state == StateBackfilling {
		s.state = StateConnected
		s.backfilled = err == nil
	}
	s.mu.Unlock()

	if err != nil {
		return result, &SyncError{AccountID: s.accountID, Op: "backfill", Err: err}
	}

	s.logger.Info("backfill complete",
		"folder", s.folder,
		"seen", result.Seen,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *Session) backfill(
	ctx context.Context,
	client Client,
	window time.Duration,
) (BackfillResult, error) {
	var result BackfillResult

	count, err := client.Select(ctx, s.folder)
	if err != nil {
		return result, fmt.Errorf("opening folder %s: %w", s.folder, err)
	}

	cutoff := s.now().Add(-window)
	batch := uint32(s.batchSize)

	for from := uint32(1); from <= count; from += batch {
		to := from + batch - 1
		if to > count || to < from {
			to = count
		}

		fetched, err := client.Fetch(ctx, from, to)
		if err != nil {
			return result, fmt.Errorf("fetching %d:%d of %s: %w", from, to, s.folder, err)
		}

		for _, f := range fetched {
			result.Seen++
			m := toMessage(s.accountID, s.folder, f)
			if m.Date.Before(cutoff) {
				result.Skipped++
				continue
			}

			_, created, err := s.store.InsertMessage(ctx, m)
			switch {
			case err != nil:
				result.Failed++
				s.logger.Error("storing message", "uid", m.MessageID, "error", err)
			case created:
				result.Inserted++
			default:
				result.Duplicates++
			}
		}

		if to == count {
			break
		}
	}

	return result, nil
}

// Watch registers for new-message notifications and returns immediately.
// Each notification is fetched and stored independently; a failure is
// logged and later notifications are still processed. Watch requires a
// completed backfill on the current connection. Registration failure
// returns a *SyncError and leaves the session connected.
func (s *Session) Watch(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateWatching:
		s.mu.Unlock()
		return nil
	case s.state != StateConnected:
		state := s.state
		s.mu.Unlock()
		return &SyncError{
			AccountID: s.accountID,
			Op:        "watch",
			Err:       fmt.Errorf("%w (state %s)", ErrNotConnected, state),
		}
	case !s.backfilled:
		s.mu.Unlock()
		return &SyncError{AccountID: s.accountID, Op: "watch", Err: ErrNotBackfilled}
	}
	client := s.client
	s.mu.Unlock()

	updates, err := client.Watch(ctx)
	if err != nil {
		return &SyncError{AccountID: s.accountID, Op: "watch", Err: err}
	}

	// The loop outlives the registering call, so it gets its own context.
	loopCtx, stop := context.WithCancel(context.Background())
	watchDone := make(chan struct{})

	s.mu.Lock()
	s.state = StateWatching
	s.stopWatch = stop
	s.watchDone = watchDone
	s.mu.Unlock()

	go s.watchLoop(loopCtx, client, updates, watchDone)

	s.logger.Info("watching", "folder", s.folder)
	return nil
}

func (s *Session) watchLoop(
	ctx context.Context,
	client Client,
	updates <-chan Update,
	watchDone chan struct{},
) {
	defer close(watchDone)

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				s.connectionLost(ctx, client)
				return
			}
			s.ingest(ctx, client, u)
		}
	}
}

// ingest fetches and stores the messages of one notification. Messages
// returned alongside a fetch error are still stored.
func (s *Session) ingest(ctx context.Context, client Client, u Update) {
	fetched, err := client.Fetch(ctx, u.From, u.To)
	if err != nil {
		s.logger.Error("fetching new messages", "from", u.From, "to", u.To,
			"fetched", len(fetched), "error", err)
	}

	for _, f := range fetched {
		m := toMessage(s.accountID, s.folder, f)
		stored, created, err := s.store.InsertMessage(ctx, m)
		if err != nil {
			s.logger.Error("storing new message", "uid", m.MessageID, "error", err)
			continue
		}
		if created {
			s.logger.Info("new message", "id", stored.ID, "uid", m.MessageID, "subject", m.Subject)
		}
	}
}

// connectionLost moves a watching session to disconnected when its
// update stream ends without a Disconnect.
func (s *Session) connectionLost(ctx context.Context, client Client) {
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		return
	}
	s.client = nil
	s.stopWatch = nil
	s.watchDone = nil
	s.state = StateDisconnected
	s.backfilled = false
	s.err = &ConnectionError{AccountID: s.accountID, Op: "watch", Err: ErrConnectionLost}
	done := s.done
	s.mu.Unlock()

	// Release whatever is left of the connection.
	_ = client.Logout(context.Background())
	close(done)

	s.logger.Warn("connection lost")
}
