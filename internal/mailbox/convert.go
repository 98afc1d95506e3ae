package mailbox

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsift/internal/model"
)

// toMessage converts a fetched message into a store message. It never
// fails: missing parts degrade to empty strings.
func toMessage(accountID, folder string, f Fetched) model.Message {
	m := model.Message{
		AccountID: accountID,
		MessageID: strconv.FormatUint(uint64(f.UID), 10),
		Date:      messageDate(f),
		Folder:    folder,
		Metadata: map[string]string{
			"uid": strconv.FormatUint(uint64(f.UID), 10),
			"seq": strconv.FormatUint(uint64(f.SeqNum), 10),
		},
	}

	if env := f.Envelope; env != nil {
		m.Subject = env.Subject
		m.From = firstAddress(env.From)
		m.To = joinAddresses(env.To)
		if env.MessageID != "" {
			m.Metadata["message_id_header"] = env.MessageID
		}
		if cc := joinAddresses(env.Cc); cc != "" {
			m.Metadata["cc"] = cc
		}
	}

	if f.Body != nil {
		text, hasHTML := parseTextBody(f.Body)
		m.Body = text
		if hasHTML {
			m.Metadata["html"] = "true"
		}
	}

	return m
}

// messageDate prefers the envelope date and falls back to the server's
// internal date.
func messageDate(f Fetched) time.Time {
	if f.Envelope != nil && !f.Envelope.Date.IsZero() {
		return f.Envelope.Date
	}
	return f.InternalDate
}

func firstAddress(addrs []imap.Address) string {
	for _, a := range addrs {
		if addr := a.Addr(); addr != "" {
			return addr
		}
	}
	return ""
}

func joinAddresses(addrs []imap.Address) string {
	var out []string
	for _, a := range addrs {
		if addr := a.Addr(); addr != "" {
			out = append(out, addr)
		}
	}
	return strings.Join(out, ", ")
}

// parseTextBody extracts the first text/plain part of a raw RFC 5322
// message and reports whether an HTML part was present. A message that
// is not MIME at all yields its raw body.
func parseTextBody(raw []byte) (text string, hasHTML bool) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return rawBody(raw), false
	}
	defer mr.Close()

	found := false
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		switch {
		case strings.HasPrefix(contentType, "text/plain") || contentType == "":
			if found {
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			text = string(body)
			found = true
		case strings.HasPrefix(contentType, "text/html"):
			hasHTML = true
		}
	}

	return text, hasHTML
}

// rawBody returns everything after the header block of a message that
// could not be parsed as MIME.
func rawBody(raw []byte) string {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return string(raw[i+4:])
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return string(raw[i+2:])
	}
	return ""
}
