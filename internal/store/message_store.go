package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/mailsift/internal/model"
)

// messageRow mirrors the messages table. Dates are stored as Unix
// milliseconds so that ORDER BY date is a numeric sort.
type messageRow struct {
	ID        int64          `db:"id"`
	AccountID string         `db:"account_id"`
	MessageID string         `db:"message_id"`
	From      string         `db:"from_addr"`
	To        string         `db:"to_addr"`
	Subject   string         `db:"subject"`
	Body      string         `db:"body"`
	Date      int64          `db:"date"`
	Folder    string         `db:"folder"`
	Category  sql.NullString `db:"category"`
	Metadata  string         `db:"metadata"`
	CreatedAt int64          `db:"created_at"`
}

func (r messageRow) toModel() (model.Message, error) {
	m := model.Message{
		ID:        r.ID,
		AccountID: r.AccountID,
		MessageID: r.MessageID,
		From:      r.From,
		To:        r.To,
		Subject:   r.Subject,
		Body:      r.Body,
		Date:      time.UnixMilli(r.Date).UTC(),
		Folder:    r.Folder,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}

	if r.Category.Valid {
		c := model.Category(r.Category.String)
		m.Category = &c
	}

	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &m.Metadata); err != nil {
			return model.Message{}, fmt.Errorf("unmarshaling metadata of message %d: %w", r.ID, err)
		}
	}

	return m, nil
}

// InsertMessage stores m unless a row with the same account, message id
// and folder already exists, in which case the existing row is returned.
func (s *SQLiteStore) InsertMessage(
	ctx context.Context,
	m model.Message,
) (*model.Message, bool, error) {
	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling metadata for message %s: %w", m.MessageID, err)
	}

	var category sql.NullString
	if m.Category != nil {
		category = sql.NullString{String: string(*m.Category), Valid: true}
	}

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			account_id, message_id, from_addr, to_addr,
			subject, body, date, folder,
			category, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, message_id, folder) DO NOTHING`,
		m.AccountID, m.MessageID, m.From, m.To,
		m.Subject, m.Body, m.Date.UnixMilli(), m.Folder,
		category, string(metaJSON), createdAt.UnixMilli(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting message %s: %w", m.MessageID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("reading insert result: %w", err)
	}

	var row messageRow
	err = tx.GetContext(ctx, &row, `
		SELECT * FROM messages
		WHERE account_id = ? AND message_id = ? AND folder = ?`,
		m.AccountID, m.MessageID, m.Folder,
	)
	if err != nil {
		return nil, false, fmt.Errorf("reading back message %s: %w", m.MessageID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing message %s: %w", m.MessageID, err)
	}

	stored, err := row.toModel()
	if err != nil {
		return nil, false, err
	}
	return &stored, affected > 0, nil
}

// GetMessage retrieves a single message by its ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM messages WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %d: %w", id, err)
	}

	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// likeEscaper escapes LIKE wildcards in user-supplied search text.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListMessages retrieves messages matching the filter, newest first.
func (s *SQLiteStore) ListMessages(
	ctx context.Context,
	filter MessageFilter,
) ([]model.Message, error) {
	var conditions []string
	var args []interface{}

	if filter.AccountID != nil {
		conditions = append(conditions, "account_id = ?")
		args = append(args, *filter.AccountID)
	}
	if filter.Folder != nil {
		conditions = append(conditions, "folder = ?")
		args = append(args, *filter.Folder)
	}
	if filter.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, string(*filter.Category))
	}
	if filter.Query != nil && strings.TrimSpace(*filter.Query) != "" {
		conditions = append(conditions, `(
			lower(subject) LIKE ? ESCAPE '\' OR
			lower(body) LIKE ? ESCAPE '\' OR
			lower(from_addr) LIKE ? ESCAPE '\' OR
			lower(to_addr) LIKE ? ESCAPE '\')`)
		q := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(*filter.Query))) + "%"
		args = append(args, q, q, q, q)
	}

	query := "SELECT * FROM messages"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	messages := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// SetCategory updates the category of a single message.
func (s *SQLiteStore) SetCategory(
	ctx context.Context,
	id int64,
	c model.Category,
) (*model.Message, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("setting category of message %d: invalid category %q", id, c)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET category = ? WHERE id = ?", string(c), id,
	)
	if err != nil {
		return nil, fmt.Errorf("setting category of message %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading update result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}

	return s.GetMessage(ctx, id)
}
