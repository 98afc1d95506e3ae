// Package sync owns the set of live mailbox sessions, one per account,
// and keeps them connected.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	gosync "sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/nhle/mailsift/internal/mailbox"
	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/store"
)

// ErrClosed is returned by AddOne after Close.
var ErrClosed = errors.New("session manager is closed")

// maxConcurrentStarts bounds how many accounts StartAll brings up at once.
const maxConcurrentStarts = 8

// AccountLister provides the accounts StartAll brings up.
type AccountLister interface {
	List(ctx context.Context) ([]model.Account, error)
}

// Config tunes the manager and the sessions it creates.
type Config struct {
	// Window is the backfill window of every session start.
	Window time.Duration

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	Session mailbox.Options
}

// Status is a snapshot of one account's session.
type Status struct {
	AccountID    string                  `json:"account_id"`
	Username     string                  `json:"username"`
	SessionID    string                  `json:"session_id,omitempty"`
	State        string                  `json:"state"`
	StartedAt    time.Time               `json:"started_at,omitempty"`
	LastError    string                  `json:"last_error,omitempty"`
	LastBackfill *mailbox.BackfillResult `json:"last_backfill,omitempty"`
	Reconnects   int                     `json:"reconnects"`
}

// entry is one registered account. session and status are guarded by
// Manager.mu.
type entry struct {
	account model.Account
	session *mailbox.Session
	status  Status
	ctx     context.Context
	cancel  context.CancelFunc
}

// Manager maps account ids to their active session. Lifecycle calls for
// the same account are serialized; calls for different accounts run
// concurrently.
type Manager struct {
	accounts AccountLister
	dialer   mailbox.Dialer
	store    store.MessageStore
	cfg      Config
	logger   *slog.Logger

	mu      gosync.Mutex
	entries map[int64]*entry
	locks   map[int64]*gosync.Mutex
	closed  bool

	supervisors gosync.WaitGroup
}

// New creates a Manager. Sessions are created with dialer and write to s.
func New(
	accounts AccountLister,
	dialer mailbox.Dialer,
	s store.MessageStore,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 5 * time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Session.Logger = logger

	return &Manager{
		accounts: accounts,
		dialer:   dialer,
		store:    s,
		cfg:      cfg,
		logger:   logger,
		entries:  make(map[int64]*entry),
		locks:    make(map[int64]*gosync.Mutex),
	}
}

// accountLock returns the lifecycle lock of one account.
func (m *Manager) accountLock(id int64) *gosync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &gosync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// StartAll brings up a session for every account. A failing account is
// logged and left out of the active set; the remaining accounts still
// start. The failures are returned joined.
func (m *Manager) StartAll(ctx context.Context) error {
	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}

	p := pool.New().WithMaxGoroutines(maxConcurrentStarts).WithErrors()
	for _, a := range accounts {
		p.Go(func() error {
			return m.AddOne(ctx, a)
		})
	}
	err = p.Wait()

	m.logger.Info("sessions started", "accounts", len(accounts), "active", len(m.Active()))
	return err
}

// AddOne connects, backfills and watches account a, then registers the
// session. An existing session for the same account is torn down first.
// On failure the account is left without a session and the error is
// returned.
func (m *Manager) AddOne(ctx context.Context, a model.Account) error {
	lock := m.accountLock(a.ID)
	lock.Lock()
	defer lock.Unlock()

	if m.isClosed() {
		return ErrClosed
	}

	if old := m.unregister(a.ID); old != nil {
		m.logger.Info("replacing session", "account_id", a.ID)
		if err := m.teardown(ctx, old); err != nil {
			m.logger.Warn("tearing down replaced session", "account_id", a.ID, "error", err)
		}
	}

	sess, result, err := m.start(ctx, a)
	if err != nil {
		m.logger.Error("starting session", "account_id", a.ID, "username", a.Username, "error", err)
		return err
	}

	ectx, cancel := context.WithCancel(context.Background())
	e := &entry{
		account: a,
		session: sess,
		ctx:     ectx,
		cancel:  cancel,
		status: Status{
			AccountID:    strconv.FormatInt(a.ID, 10),
			Username:     a.Username,
			SessionID:    sess.ID(),
			StartedAt:    time.Now(),
			LastBackfill: &result,
		},
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		_ = sess.Disconnect(ctx)
		return ErrClosed
	}
	m.entries[a.ID] = e
	m.supervisors.Add(1)
	m.mu.Unlock()

	go m.supervise(e)
	return nil
}

// RemoveOne disconnects and unregisters the session of account id. It is
// a no-op when no session is active. The session is unregistered even if
// disconnecting fails; that failure is returned.
func (m *Manager) RemoveOne(ctx context.Context, id int64) error {
	// Abort a reconnect in flight before waiting for the account lock.
	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		e.cancel()
	}
	m.mu.Unlock()

	lock := m.accountLock(id)
	lock.Lock()
	defer lock.Unlock()

	e := m.unregister(id)
	if e == nil {
		return nil
	}
	if err := m.teardown(ctx, e); err != nil {
		m.logger.Warn("removing session", "account_id", id, "error", err)
		return err
	}
	m.logger.Info("session removed", "account_id", id)
	return nil
}

// Active returns the ids of accounts with a registered session.
func (m *Manager) Active() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Status returns a snapshot of every registered session, ordered by
// account id.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	statuses := make([]Status, 0, len(ids))
	for _, id := range ids {
		e := m.entries[id]
		st := e.status
		st.State = e.session.State().String()
		if st.LastBackfill != nil {
			bf := *st.LastBackfill
			st.LastBackfill = &bf
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Close disconnects every session and stops supervision. Sessions cannot
// be added afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*entry, 0, len(m.entries))
	for id, e := range m.entries {
		e.cancel()
		entries = append(entries, e)
		delete(m.entries, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, e := range entries {
		lock := m.accountLock(e.account.ID)
		lock.Lock()
		if err := m.teardown(ctx, e); err != nil {
			errs = append(errs, err)
		}
		lock.Unlock()
	}

	m.supervisors.Wait()
	return errors.Join(errs...)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// unregister removes and returns the entry of account id, if any.
func (m *Manager) unregister(id int64) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	delete(m.entries, id)
	return e
}

// teardown stops supervision of e and disconnects its session.
func (m *Manager) teardown(ctx context.Context, e *entry) error {
	e.cancel()

	m.mu.Lock()
	sess := e.session
	m.mu.Unlock()

	return sess.Disconnect(ctx)
}

// start runs connect, backfill and watch in order. A session that fails
// after connecting is disconnected again.
func (m *Manager) start(
	ctx context.Context,
	a model.Account,
) (*mailbox.Session, mailbox.BackfillResult, error) {
	sess := mailbox.NewSession(a, m.dialer, m.store, m.cfg.Session)

	if err := sess.Connect(ctx); err != nil {
		return nil, mailbox.BackfillResult{}, err
	}

	result, err := sess.Backfill(ctx, m.cfg.Window)
	if err == nil {
		err = sess.Watch(ctx)
	}
	if err != nil {
		if dErr := sess.Disconnect(ctx); dErr != nil {
			m.logger.Warn("disconnecting failed session", "account_id", a.ID, "error", dErr)
		}
		return nil, result, err
	}

	return sess, result, nil
}

// supervise reconnects e's session whenever it loses its connection,
// until the entry is removed or the manager closes.
func (m *Manager) supervise(e *entry) {
	defer m.supervisors.Done()

	for {
		m.mu.Lock()
		sess := e.session
		m.mu.Unlock()

		select {
		case <-e.ctx.Done():
			return
		case <-sess.Done():
		}

		lost := sess.Err()
		if lost == nil {
			// Disconnected on purpose.
			return
		}

		m.logger.Warn("session lost, reconnecting", "account_id", e.account.ID, "error", lost)
		m.setError(e, lost)

		if !m.reconnect(e) {
			return
		}
	}
}

// reconnect retries start with exponential backoff. It reports false if
// the entry was removed in the meantime.
func (m *Manager) reconnect(e *entry) bool {
	delay := m.cfg.ReconnectMin
	lock := m.accountLock(e.account.ID)

	for {
		timer := time.NewTimer(delay)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		lock.Lock()
		if e.ctx.Err() != nil {
			lock.Unlock()
			return false
		}

		sess, result, err := m.start(e.ctx, e.account)
		if err != nil {
			lock.Unlock()
			m.logger.Warn("reconnect failed",
				"account_id", e.account.ID, "error", err, "retry_in", delay*2)
			m.setError(e, err)
			delay *= 2
			if delay > m.cfg.ReconnectMax {
				delay = m.cfg.ReconnectMax
			}
			continue
		}

		m.mu.Lock()
		current := m.entries[e.account.ID] == e
		if current {
			e.session = sess
			e.status.SessionID = sess.ID()
			e.status.StartedAt = time.Now()
			e.status.LastBackfill = &result
			e.status.LastError = ""
			e.status.Reconnects++
		}
		m.mu.Unlock()

		if !current {
			_ = sess.Disconnect(context.Background())
			lock.Unlock()
			return false
		}
		lock.Unlock()

		m.logger.Info("reconnected", "account_id", e.account.ID, "inserted", result.Inserted)
		return true
	}
}

func (m *Manager) setError(e *entry, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.status.LastError = err.Error()
}
