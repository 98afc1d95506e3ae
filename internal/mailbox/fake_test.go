package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsift/internal/model"
)

// fakeClient is an in-memory mailbox. Sequence number n is messages[n-1].
type fakeClient struct {
	mu         sync.Mutex
	messages   []Fetched
	selectErr  error
	watchErr   error
	logoutErr  error
	fetchErrs  map[uint32]error
	tailErrs   map[uint32]error
	fetchCalls [][2]uint32
	updates    chan Update
	logouts    int
}

func newFakeClient(msgs ...Fetched) *fakeClient {
	c := &fakeClient{
		fetchErrs: make(map[uint32]error),
		tailErrs:  make(map[uint32]error),
	}
	for _, m := range msgs {
		c.add(m)
	}
	return c
}

// add appends a message and returns its sequence number.
func (c *fakeClient) add(f Fetched) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.SeqNum = uint32(len(c.messages) + 1)
	c.messages = append(c.messages, f)
	return f.SeqNum
}

// failFetchAt makes the next Fetch starting at from fail.
func (c *fakeClient) failFetchAt(from uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErrs[from] = err
}

// failAfterFetchAt makes the next Fetch starting at from return its
// messages together with err, as when IDLE cannot be resumed.
func (c *fakeClient) failAfterFetchAt(from uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tailErrs[from] = err
}

// notify delivers an update as if the server had sent EXISTS.
func (c *fakeClient) notify(t *testing.T, u Update) {
	t.Helper()
	c.mu.Lock()
	ch := c.updates
	c.mu.Unlock()
	if ch == nil {
		t.Fatal("notify without an active watch")
	}
	ch <- u
}

// drop simulates the server closing the connection.
func (c *fakeClient) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updates != nil {
		close(c.updates)
		c.updates = nil
	}
}

func (c *fakeClient) logoutCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logouts
}

func (c *fakeClient) calls() [][2]uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]uint32(nil), c.fetchCalls...)
}

func (c *fakeClient) Select(_ context.Context, _ string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectErr != nil {
		return 0, c.selectErr
	}
	return uint32(len(c.messages)), nil
}

func (c *fakeClient) Fetch(_ context.Context, from, to uint32) ([]Fetched, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetchCalls = append(c.fetchCalls, [2]uint32{from, to})
	if err, ok := c.fetchErrs[from]; ok {
		delete(c.fetchErrs, from)
		return nil, err
	}
	if from == 0 || int(from) > len(c.messages) {
		return nil, fmt.Errorf("no message %d", from)
	}
	if int(to) > len(c.messages) {
		to = uint32(len(c.messages))
	}
	fetched := append([]Fetched(nil), c.messages[from-1:to]...)
	if err, ok := c.tailErrs[from]; ok {
		delete(c.tailErrs, from)
		return fetched, err
	}
	return fetched, nil
}

func (c *fakeClient) Watch(_ context.Context) (<-chan Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchErr != nil {
		return nil, c.watchErr
	}
	c.updates = make(chan Update)
	return c.updates, nil
}

func (c *fakeClient) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	if c.updates != nil {
		close(c.updates)
		c.updates = nil
	}
	return c.logoutErr
}

// dialerFor returns a dialer that always hands out c.
func dialerFor(c *fakeClient) Dialer {
	return DialerFunc(func(context.Context, model.Account) (Client, error) {
		return c, nil
	})
}

// failingDialer returns a dialer that always fails with err.
func failingDialer(err error) Dialer {
	return DialerFunc(func(context.Context, model.Account) (Client, error) {
		return nil, err
	})
}

var errBoom = errors.New("boom")

// fixture builds a fetched message with a plain-text body.
func fixture(uid uint32, date time.Time, subject string) Fetched {
	return Fetched{
		UID: uid,
		Envelope: &imap.Envelope{
			Date:      date,
			Subject:   subject,
			MessageID: fmt.Sprintf("<%d@example.com>", uid),
			From:      []imap.Address{{Name: "Alice", Mailbox: "alice", Host: "example.com"}},
			To:        []imap.Address{{Mailbox: "me", Host: "example.com"}},
		},
		Body: []byte("From: alice@example.com\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"Body of " + subject),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
