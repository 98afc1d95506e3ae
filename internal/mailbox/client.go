package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsift/internal/model"
)

// idleRefresh restarts IDLE before servers drop it (RFC 2177 allows 30m).
const idleRefresh = 25 * time.Minute

// IMAPDialer connects to IMAP servers with go-imap v2.
type IMAPDialer struct {
	// TLS selects implicit TLS; false upgrades a plain connection with
	// STARTTLS.
	TLS bool

	// Insecure skips TLS and STARTTLS altogether. Only for local servers.
	Insecure bool

	// Timeout bounds every remote call, including the dial itself.
	Timeout time.Duration

	Logger *slog.Logger
}

var _ Dialer = (*IMAPDialer)(nil)

// Dial establishes a connection to the account's server and
// authenticates. Authentication failures are returned as errors and the
// connection is closed.
func (d *IMAPDialer) Dial(ctx context.Context, a model.Account) (Client, error) {
	addr := a.Address()
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &IMAPClient{
		timeout: timeout,
		logger:  logger.With("addr", addr),
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	netDialer := &net.Dialer{Timeout: timeout}
	tlsConfig := &tls.Config{ServerName: a.Host}
	opts := &imapclient.Options{
		TLSConfig: tlsConfig,
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: c.handleMailbox,
			Expunge: c.handleExpunge,
		},
	}

	switch {
	case d.Insecure:
		conn, err := netDialer.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		c.cl = imapclient.New(conn, opts)
	case d.TLS:
		conn, err := (&tls.Dialer{NetDialer: netDialer, Config: tlsConfig}).DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		c.cl = imapclient.New(conn, opts)
	default:
		conn, err := netDialer.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		_ = conn.SetDeadline(time.Now().Add(timeout))
		cl, err := imapclient.NewStartTLS(conn, opts)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("starting TLS with %s: %w", addr, err)
		}
		_ = conn.SetDeadline(time.Time{})
		c.cl = cl
	}

	err := c.call(dialCtx, func() error {
		return c.cl.Login(a.Username, a.Password).Wait()
	})
	if err != nil {
		_ = c.cl.Close()
		return nil, fmt.Errorf("authentication failed for %s: %w", a.Username, err)
	}

	return c, nil
}

// IMAPClient is one authenticated go-imap v2 connection. IDLE and other
// commands share the connection, so cmdMu serializes them: Fetch leaves
// IDLE, runs, and re-enters IDLE if a watch is active.
type IMAPClient struct {
	cl      *imapclient.Client
	timeout time.Duration
	logger  *slog.Logger

	cmdMu    sync.Mutex
	idle     *imapclient.IdleCommand
	watching bool

	// countMu guards exists and reported. The unilateral handlers run on
	// the reader goroutine and must not block on cmdMu.
	countMu  sync.Mutex
	exists   uint32
	reported uint32

	signal   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

var _ Client = (*IMAPClient)(nil)

// call runs fn, giving up after the per-call timeout. On timeout the
// connection is closed so that fn cannot keep it busy.
func (c *IMAPClient) call(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if c.cl != nil {
			_ = c.cl.Close()
		}
		return fmt.Errorf("imap call: %w", ctx.Err())
	}
}

// handleMailbox records EXISTS updates and wakes the watch loop.
func (c *IMAPClient) handleMailbox(data *imapclient.UnilateralDataMailbox) {
	if data.NumMessages == nil {
		return
	}

	c.countMu.Lock()
	c.exists = *data.NumMessages
	c.countMu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// handleExpunge keeps the message count in step with removals so later
// EXISTS updates map to the right sequence numbers.
func (c *IMAPClient) handleExpunge(seqNum uint32) {
	c.countMu.Lock()
	defer c.countMu.Unlock()

	if c.exists > 0 {
		c.exists--
	}
	if seqNum <= c.reported && c.reported > 0 {
		c.reported--
	}
}

// pending returns the range of messages not yet announced, if any.
func (c *IMAPClient) pending() (Update, bool) {
	c.countMu.Lock()
	defer c.countMu.Unlock()

	if c.exists <= c.reported {
		c.reported = c.exists
		return Update{}, false
	}
	u := Update{From: c.reported + 1, To: c.exists}
	c.reported = c.exists
	return u, true
}

// Select opens folder read-only.
func (c *IMAPClient) Select(ctx context.Context, folder string) (uint32, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	var data *imap.SelectData
	err := c.call(ctx, func() error {
		var err error
		data, err = c.cl.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("selecting %s: %w", folder, err)
	}

	c.countMu.Lock()
	c.exists = data.NumMessages
	c.reported = data.NumMessages
	c.countMu.Unlock()

	return data.NumMessages, nil
}

// Fetch returns envelope, UID, internal date and the full body of the
// messages in from..to. A watch is resumed however the FETCH ends.
func (c *IMAPClient) Fetch(ctx context.Context, from, to uint32) ([]Fetched, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	defer c.resumeIdle(ctx)

	if err := c.stopIdle(ctx); err != nil {
		return nil, err
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(from, to)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	var bufs []*imapclient.FetchMessageBuffer
	err := c.call(ctx, func() error {
		var err error
		bufs, err = c.cl.Fetch(seqSet, fetchOpts).Collect()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %d:%d: %w", from, to, err)
	}

	fetched := make([]Fetched, 0, len(bufs))
	for _, buf := range bufs {
		fetched = append(fetched, Fetched{
			SeqNum:       buf.SeqNum,
			UID:          uint32(buf.UID),
			Envelope:     buf.Envelope,
			InternalDate: buf.InternalDate,
			Body:         buf.FindBodySection(bodySection),
		})
	}
	return fetched, nil
}

// Watch enters IDLE and starts the loop that turns EXISTS updates into
// Update values.
func (c *IMAPClient) Watch(ctx context.Context) (<-chan Update, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.watching {
		return nil, fmt.Errorf("already watching")
	}
	c.watching = true
	if err := c.startIdle(ctx); err != nil {
		c.watching = false
		return nil, err
	}

	updates := make(chan Update, 16)
	go c.watchLoop(updates)
	return updates, nil
}

// watchLoop runs until the connection closes or Logout is called.
func (c *IMAPClient) watchLoop(updates chan<- Update) {
	defer close(updates)

	refresh := time.NewTicker(idleRefresh)
	defer refresh.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.cl.Closed():
			return
		case <-refresh.C:
			c.cmdMu.Lock()
			if err := c.stopIdle(context.Background()); err != nil {
				c.logger.Warn("refreshing IDLE", "error", err)
			}
			c.resumeIdle(context.Background())
			c.cmdMu.Unlock()
		case <-c.signal:
			u, ok := c.pending()
			if !ok {
				continue
			}
			select {
			case updates <- u:
			case <-c.stop:
				return
			}
		}
	}
}

// startIdle enters IDLE when a watch is active. Callers hold cmdMu.
func (c *IMAPClient) startIdle(ctx context.Context) error {
	if !c.watching || c.idle != nil {
		return nil
	}
	return c.call(ctx, func() error {
		idle, err := c.cl.Idle()
		if err != nil {
			return fmt.Errorf("starting IDLE: %w", err)
		}
		c.idle = idle
		return nil
	})
}

// resumeIdle re-enters IDLE after a command. If that fails the connection
// is closed, which ends the watch loop so the owner reconnects. Callers
// hold cmdMu.
func (c *IMAPClient) resumeIdle(ctx context.Context) {
	if err := c.startIdle(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("re-entering IDLE, closing connection", "error", err)
		_ = c.cl.Close()
	}
}

// stopIdle leaves IDLE if it is running. Callers hold cmdMu.
func (c *IMAPClient) stopIdle(ctx context.Context) error {
	if c.idle == nil {
		return nil
	}
	idle := c.idle
	c.idle = nil
	return c.call(ctx, func() error {
		if err := idle.Close(); err != nil {
			return fmt.Errorf("stopping IDLE: %w", err)
		}
		return idle.Wait()
	})
}

// Logout leaves IDLE, logs out and closes the connection. The connection
// is closed even if logging out fails.
func (c *IMAPClient) Logout(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.watching = false
	_ = c.stopIdle(ctx)

	err := c.call(ctx, func() error {
		return c.cl.Logout().Wait()
	})
	_ = c.cl.Close()
	if err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}
