package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	host       TEXT NOT NULL,
	port       TEXT NOT NULL,
	username   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	from_addr  TEXT NOT NULL DEFAULT '',
	to_addr    TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	date       INTEGER NOT NULL,
	folder     TEXT NOT NULL,
	category   TEXT CHECK(category IS NULL OR category IN (
		'INTERESTED', 'MEETING_BOOKED', 'NOT_INTERESTED', 'SPAM', 'OUT_OF_OFFICE'
	)),
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_account_id ON messages(account_id);
CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_dedup
	ON messages(account_id, message_id, folder);

CREATE INDEX IF NOT EXISTS idx_messages_account_date
	ON messages(account_id, date);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
