package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailsift/internal/model"
)

// SQLiteStore implements the Store interface using a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// any pending schema migrations. An empty path or ":memory:" opens a
// process-local database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = ":memory:"
	}
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// accountRow mirrors the accounts table.
type accountRow struct {
	ID        int64  `db:"id"`
	Host      string `db:"host"`
	Port      string `db:"port"`
	Username  string `db:"username"`
	CreatedAt int64  `db:"created_at"`
}

func (r accountRow) toModel() model.Account {
	return model.Account{
		ID:        r.ID,
		Host:      r.Host,
		Port:      r.Port,
		Username:  r.Username,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
}

// CreateAccount inserts a new account row and fills in its ID and
// CreatedAt. The password is not persisted here.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (host, port, username, created_at) VALUES (?, ?, ?, ?)",
		a.Host, a.Port, a.Username, a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("creating account %s@%s: %w", a.Username, a.Host, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading account id: %w", err)
	}
	a.ID = id
	a.CreatedAt = time.UnixMilli(a.CreatedAt.UnixMilli()).UTC()

	return nil
}

// GetAccount retrieves a single account by its ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %d: %w", id, err)
	}

	a := row.toModel()
	return &a, nil
}

// ListAccounts retrieves all accounts in creation order.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM accounts ORDER BY id"); err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}

	accounts := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toModel())
	}
	return accounts, nil
}

// DeleteAccount removes an account by ID. Deleting an unknown ID is not
// an error.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting account %d: %w", id, err)
	}
	return nil
}
