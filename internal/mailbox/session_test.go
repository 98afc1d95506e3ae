package mailbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsift/internal/model"
	"github.com/nhle/mailsift/internal/store"
	"github.com/nhle/mailsift/tests/testutil"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func newTestSession(t *testing.T, d Dialer, s store.MessageStore) *Session {
	t.Helper()
	return NewSession(
		model.Account{ID: 1, Host: "imap.example.com", Port: "993", Username: "me", Password: "pw"},
		d,
		s,
		Options{
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
			Now:    func() time.Time { return testNow },
		},
	)
}

func accountMessages(t *testing.T, s store.MessageStore) []model.Message {
	t.Helper()
	id := "1"
	msgs, err := s.ListMessages(context.Background(), store.MessageFilter{AccountID: &id})
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	return msgs
}

func TestSession_BackfillWindowEndToEnd(t *testing.T) {
	st := testutil.NewTestStore(t)
	client := newFakeClient(
		fixture(101, testNow.Add(-40*day), "forty days"),
		fixture(102, testNow.Add(-10*day), "ten days"),
		fixture(103, testNow, "today"),
	)
	sess := newTestSession(t, dialerFor(client), st)
	ctx := context.Background()

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	res, err := sess.Backfill(ctx, 30*day)
	if err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}

	want := BackfillResult{Seen: 3, Inserted: 2, Skipped: 1}
	if res != want {
		t.Errorf("Backfill() = %+v, want %+v", res, want)
	}
	if got := sess.State(); got != StateConnected {
		t.Errorf("State() = %s, want connected", got)
	}

	msgs := accountMessages(t, st)
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	if msgs[0].Subject != "today" || msgs[1].Subject != "ten days" {
		t.Errorf("order = [%q, %q], want newest first", msgs[0].Subject, msgs[1].Subject)
	}

	m := msgs[0]
	if m.MessageID != "103" || m.Folder != "INBOX" || m.AccountID != "1" {
		t.Errorf("keys = %q/%q/%q", m.AccountID, m.Folder, m.MessageID)
	}
	if m.From != "alice@example.com" || m.To != "me@example.com" {
		t.Errorf("addresses = %q -> %q", m.From, m.To)
	}
	if m.Body != "Body of today" {
		t.Errorf("Body = %q", m.Body)
	}
	if m.Metadata["message_id_header"] != "<103@example.com>" {
		t.Errorf("Metadata = %v", m.Metadata)
	}
}

func TestSession_BackfillGracefulDegradation(t *testing.T) {
	st := testutil.NewTestStore(t)

	noFrom := fixture(1, testNow, "no sender")
	noFrom.Envelope.From = nil
	noFrom.Envelope.To = nil

	htmlOnly := fixture(2, testNow, "html only")
	htmlOnly.Body = []byte("Content-Type: text/html\r\n\r\n<p>hi</p>")

	noBody := fixture(3, testNow, "no body")
	noBody.Body = nil

	noEnvelope := Fetched{UID: 4, InternalDate: testNow}

	client := newFakeClient(noFrom, htmlOnly, noBody, noEnvelope, fixture(5, testNow, "normal"))
	sess := newTestSession(t, dialerFor(client), st)
	ctx := context.Background()

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	res, err := sess.Backfill(ctx, 30*day)
	if err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}
	if res.Inserted != 5 {
		t.Fatalf("Inserted = %d, want 5 (%+v)", res.Inserted, res)
	}

	byUID := make(map[string]model.Message)
	for _, m := range accountMessages(t, st) {
		byUID[m.MessageID] = m
	}

	if m := byUID["1"]; m.From != "" || m.To != "" {
		t.Errorf("missing addresses gave From=%q To=%q, want empty", m.From, m.To)
	}
	if m := byUID["2"]; m.Body != "" || m.Metadata["html"] != "true" {
		t.Errorf("html-only body = %q, metadata %v", m.Body, m.Metadata)
	}
	if m := byUID["3"]; m.Body != "" {
		t.Errorf("missing body = %q, want empty", m.Body)
	}
	if m := byUID["4"]; m.Subject != "" || !m.Date.Equal(testNow) {
		t.Errorf("no envelope gave Subject=%q Date=%v", m.Subject, m.Date)
	}
	if m := byUID["5"]; m.Body != "Body of normal" {
		t.Errorf("message after malformed ones has Body = %q", m.Body)
	}
}

func TestSession_BackfillBatches(t *testing.T) {
	st := testutil.NewTestStore(t)
	client := newFakeClient()
	for uid := uint32(1); uid <= 5; uid++ {
		client.add(fixture(uid, testNow, "m"))
	}

	sess := NewSession(model.Account{ID: 1}, dialerFor(client), st, Options{
		BatchSize: 2,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return testNow },
	})
	ctx := context.Background()
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := sess.Backfill(ctx, day); err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}

	want := [][2]uint32{{1, 2}, {3, 4}, {5, 5}}
	got := client.calls()
	if len(got) != len(want) {
		t.Fatalf("fetch calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSession_BackfillDedup(t *testing.T) {
	st := testutil.NewTestStore(t)
	client := newFakeClient(fixture(1, testNow, "a"), fixture(2, testNow, "b"))
	sess := newTestSession(t, dialerFor(client), st)
	ctx := context.Background()

	for round := 0; round < 2; round++ {
		if err := sess.Connect(ctx); err != nil {
			t.Fatalf("Connect() error: %v", err)
		}
		res, err := sess.Backfill(ctx, day)
		if err != nil {
			t.Fatalf("Backfill() error: %v", err)
		}
		if round == 1 && (res.Inserted != 0 || res.Duplicates != 2) {
			t.Errorf("second backfill = %+v, want 2 duplicates", res)
		}
		if err := sess.Disconnect(ctx); err != nil {
			t.Fatalf("Disconnect() error: %v", err)
		}
	}

	if n := len(accountMessages(t, st)); n != 2 {
		t.Errorf("stored %d messages, want 2", n)
	}
}

func TestSession_BackfillFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *fakeClient)
	}{
		{"select fails", func(c *fakeClient) { c.selectErr = errBoom }},
		{"fetch fails", func(c *fakeClient) { c.failFetchAt(1, errBoom) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(fixture(1, testNow, "a"))
			tt.setup(client)
			sess := newTestSession(t, dialerFor(client), testutil.NewTestStore(t))
			ctx := context.Background()

			if err := sess.Connect(ctx); err != nil {
				t.Fatalf("Connect() error: %v", err)
			}
			_, err := sess.Backfill(ctx, day)
			if !IsSyncError(err) || !errors.Is(err, errBoom) {
				t.Fatalf("Backfill() error = %v, want SyncError wrapping cause", err)
			}
			if got := sess.State(); got != StateConnected {
				t.Errorf("State() = %s, want connected", got)
			}
			if err := sess.Watch(ctx); !errors.Is(err, ErrNotBackfilled) {
				t.Errorf("Watch() after failed backfill error = %v, want ErrNotBackfilled", err)
			}
		})
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	sess := newTestSession(t, failingDialer(errBoom), testutil.NewTestStore(t))

	err := sess.Connect(context.Background())
	if !IsConnectionError(err) || !errors.Is(err, errBoom) {
		t.Fatalf("Connect() error = %v, want ConnectionError wrapping cause", err)
	}
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", got)
	}
	if _, err := sess.Backfill(context.Background(), day); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Backfill() on disconnected session error = %v", err)
	}
}

func TestSession_WatchRequiresBackfill(t *testing.T) {
	client := newFakeClient(fixture(1, testNow, "a"))
	sess := newTestSession(t, dialerFor(client), testutil.NewTestStore(t))
	ctx := context.Background()

	if err := sess.Watch(ctx); !IsSyncError(err) || !errors.Is(err, ErrNotConnected) {
		t.Errorf("Watch() before Connect error = %v", err)
	}

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	err := sess.Watch(ctx)
	if !IsSyncError(err) || !errors.Is(err, ErrNotBackfilled) {
		t.Fatalf("Watch() before Backfill error = %v, want ErrNotBackfilled", err)
	}
	if got := sess.State(); got != StateConnected {
		t.Errorf("State() = %s, want connected", got)
	}

	if _, err := sess.Backfill(ctx, day); err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}
	if err := sess.Watch(ctx); err != nil {
		t.Fatalf("Watch() after Backfill error: %v", err)
	}
	if got := sess.State(); got != StateWatching {
		t.Errorf("State() = %s, want watching", got)
	}
	if err := sess.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
}

func TestSession_WatchRegistrationFailure(t *testing.T) {
	client := newFakeClient()
	client.watchErr = errBoom
	sess := newTestSession(t, dialerFor(client), testutil.NewTestStore(t))
	ctx := context.Background()

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := sess.Backfill(ctx, day); err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}

	err := sess.Watch(ctx)
	if !IsSyncError(err) || !errors.Is(err, errBoom) {
		t.Fatalf("Watch() error = %v, want SyncError wrapping cause", err)
	}
	if got := sess.State(); got != StateConnected {
		t.Errorf("State() = %s, want connected", got)
	}
}

func TestSession_NotificationIsolation(t *testing.T) {
	st := testutil.NewTestStore(t)
	client := newFakeClient(fixture(1, testNow.Add(-90*day), "old"))
	sess := newTestSession(t, dialerFor(client), st)
	ctx := context.Background()

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := sess.Backfill(ctx, day); err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}
	if err := sess.Watch(ctx); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	t.Cleanup(func() { _ = sess.Disconnect(ctx) })

	first := client.add(fixture(2, testNow, "lost"))
	client.failFetchAt(first, errBoom)
	client.notify(t, Update{From: first, To: first})

	// New mail is not subject to the backfill window.
	second := client.add(fixture(3, testNow.Add(-365*day), "arrives"))
	client.notify(t, Update{From: second, To: second})

	waitFor(t, "second notification to be stored", func() bool {
		return len(accountMessages(t, st)) == 1
	})

	msgs := accountMessages(t, st)
	if msgs[0].MessageID != "3" {
		t.Errorf("stored uid %s, want 3", msgs[0].MessageID)
	}
	if got := sess.State(); got != StateWatching {
		t.Errorf("State() = %s, want watching", got)
	}
}

func TestSession_IngestKeepsMessagesFetchedBeforeError(t *testing.T) {
	st := testutil.NewTestStore(t)
	client := newFakeClient()
	sess := newTestSession(t, dialerFor(client), st)
	ctx := context.Background()

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := sess.Backfill(ctx, day); err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}
	if err := sess.Watch(ctx); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	t.Cleanup(func() { _ = sess.Disconnect(ctx) })

	from := client.add(fixture(7, testNow, "fetched"))
	to := client.add(fixture(8, testNow, "also fetched"))
	client.failAfterFetchAt(from, errBoom)
	client.notify(t, Update{From: from, To: to})

	waitFor(t, "both messages to be stored", func() bool {
		return len(accountMessages(t, st)) == 2
	})
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	client := newFakeClient()
	sess := newTestSession(t, dialerFor(client), testutil.NewTestStore(t))
	ctx := context.Background()

	if err := sess.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() before Connect error: %v", err)
	}

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := sess.Backfill(ctx, day); err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}
	if err := sess.Watch(ctx); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := sess.Disconnect(ctx); err != nil {
			t.Fatalf("Disconnect() #%d error: %v", i+1, err)
		}
	}
	if n := client.logoutCount(); n != 1 {
		t.Errorf("logouts = %d, want 1", n)
	}

	select {
	case <-sess.Done():
	default:
		t.Error("Done() not closed after Disconnect")
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Err() after Disconnect = %v, want nil", err)
	}
}

func TestSession_DisconnectFailure(t *testing.T) {
	client := newFakeClient()
	client.logoutErr = errBoom
	sess := newTestSession(t, dialerFor(client), testutil.NewTestStore(t))
	ctx := context.Background()

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	err := sess.Disconnect(ctx)
	if !IsConnectionError(err) {
		t.Fatalf("Disconnect() error = %v, want ConnectionError", err)
	}
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", got)
	}
}

func TestSession_ConnectionLost(t *testing.T) {
	client := newFakeClient()
	sess := newTestSession(t, dialerFor(client), testutil.NewTestStore(t))
	ctx := context.Background()

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := sess.Backfill(ctx, day); err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}
	if err := sess.Watch(ctx); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	client.drop()

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after connection loss")
	}
	if err := sess.Err(); !IsConnectionError(err) || !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Err() = %v, want ErrConnectionLost", err)
	}
	if got := sess.State(); got != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", got)
	}
	if err := sess.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect() after loss error: %v", err)
	}
}

func TestParseTextBody(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantHTML bool
	}{
		{
			name:     "single part plain",
			raw:      "Content-Type: text/plain\r\n\r\nhello",
			wantText: "hello",
		},
		{
			name: "multipart alternative",
			raw: "Content-Type: multipart/alternative; boundary=XX\r\n\r\n" +
				"--XX\r\nContent-Type: text/plain\r\n\r\nplain part\r\n" +
				"--XX\r\nContent-Type: text/html\r\n\r\n<b>html part</b>\r\n" +
				"--XX--\r\n",
			wantText: "plain part",
			wantHTML: true,
		},
		{
			name:     "html only",
			raw:      "Content-Type: text/html\r\n\r\n<p>x</p>",
			wantHTML: true,
		},
		{
			name:     "quoted printable",
			raw:      "Content-Type: text/plain\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\ncaf=C3=A9",
			wantText: "café",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, hasHTML := parseTextBody([]byte(tt.raw))
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if hasHTML != tt.wantHTML {
				t.Errorf("hasHTML = %v, want %v", hasHTML, tt.wantHTML)
			}
		})
	}
}

func TestToMessage_Addresses(t *testing.T) {
	f := fixture(9, testNow, "s")
	f.Envelope.To = append(f.Envelope.To, imap.Address{Mailbox: "you", Host: "example.org"})
	f.Envelope.Cc = []imap.Address{{Mailbox: "cc", Host: "example.net"}}

	m := toMessage("7", "INBOX", f)
	if m.To != "me@example.com, you@example.org" {
		t.Errorf("To = %q", m.To)
	}
	if m.Metadata["cc"] != "cc@example.net" {
		t.Errorf("cc = %q", m.Metadata["cc"])
	}
	if m.Metadata["uid"] != "9" || m.MessageID != "9" {
		t.Errorf("uid metadata = %q, MessageID = %q", m.Metadata["uid"], m.MessageID)
	}
}
