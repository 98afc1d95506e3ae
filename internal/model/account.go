package model

import "time"

// Account is a configured remote mailbox connection.
type Account struct {
	// ID is assigned by the account registry on creation.
	ID int64 `json:"id" db:"id"`

	// Host is the IMAP server hostname.
	Host string `json:"host" db:"host"`

	// Port is the IMAP server port, kept as text as it is entered.
	Port string `json:"port" db:"port"`

	// Username is the login name for the mailbox.
	Username string `json:"username" db:"username"`

	// Password is the secret credential. It lives in the keyring,
	// never in the database, and is never serialized.
	Password string `json:"-" db:"-"`

	// CreatedAt is when the account was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AccountParams holds the fields supplied when registering an account.
type AccountParams struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Address returns the host:port dial address for the account.
func (a Account) Address() string {
	return a.Host + ":" + a.Port
}
