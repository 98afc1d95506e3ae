package model

import "time"

// Message is one ingested email, normalized into the store's schema.
type Message struct {
	// ID is assigned by the store on insert.
	ID int64 `json:"id"`

	// AccountID references the owning account, stored as text.
	AccountID string `json:"account_id"`

	// MessageID is the provider-native identifier (the IMAP UID),
	// unique within its folder.
	MessageID string `json:"message_id"`

	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`

	// Body is the plain-text part, empty when the message has none.
	Body string `json:"body"`

	// Date is the message's own date, not the ingestion time.
	Date time.Time `json:"date"`

	Folder string `json:"folder"`

	// Category is nil until the message has been classified.
	Category *Category `json:"category"`

	Metadata map[string]string `json:"metadata"`

	// CreatedAt is when the message was ingested.
	CreatedAt time.Time `json:"created_at"`
}

// HasCategory reports whether the message has been classified as c.
func (m Message) HasCategory(c Category) bool {
	return m.Category != nil && *m.Category == c
}
