package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"tg_forwarder/internal/model"
	"tg_forwarder/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

var summaryTimeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB // nil when this instance wraps a transaction
	q  queryer
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A second pooled connection would see a separate database for
	// in-memory DSNs and would contend for the write lock otherwise.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, q: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn against a Storage bound to a single transaction. Nested
// calls reuse the outer transaction.
func (s *SQLite) WithTx(ctx context.Context, fn func(Storage) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&SQLite{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertChat returns the chat with the given Telegram id, creating it if
// needed and refreshing its display name when one is supplied.
func (s *SQLite) UpsertChat(ctx context.Context, telegramID, displayName string) (*model.Chat, error) {
	chat, err := s.GetChatByTelegramID(ctx, telegramID)
	if err == nil {
		if displayName != "" && displayName != chat.DisplayName {
			if err := s.SetChatDisplayName(ctx, chat.ID, displayName); err != nil {
				return nil, err
			}
			chat.DisplayName = displayName
		}
		return chat, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO chats (telegram_id, display_name, created_at) VALUES (?, ?, ?)`,
		telegramID, displayName, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	created, _ := time.Parse(timeLayout, now)
	return &model.Chat{ID: id, TelegramID: telegramID, DisplayName: displayName, CreatedAt: created}, nil
}

// GetChat returns a single chat by its internal id.
func (s *SQLite) GetChat(ctx context.Context, id int64) (*model.Chat, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, telegram_id, display_name, current_edit_rule_id, created_at FROM chats WHERE id = ?`, id,
	)
	return scanChat(row)
}

// GetChatByTelegramID returns a single chat by its Telegram id string.
func (s *SQLite) GetChatByTelegramID(ctx context.Context, telegramID string) (*model.Chat, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, telegram_id, display_name, current_edit_rule_id, created_at FROM chats WHERE telegram_id = ?`, telegramID,
	)
	return scanChat(row)
}

// ListChats returns all known chats.
func (s *SQLite) ListChats(ctx context.Context) ([]model.Chat, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, telegram_id, display_name, current_edit_rule_id, created_at FROM chats ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// SetChatDisplayName updates a chat's cached display name.
func (s *SQLite) SetChatDisplayName(ctx context.Context, id int64, name string) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE chats SET display_name = ? WHERE id = ?`, name, id); err != nil {
		return fmt.Errorf("update chat name: %w", err)
	}
	return nil
}

// SetChatEditRule remembers (or clears, with nil) which rule the operator
// is currently configuring from this chat.
func (s *SQLite) SetChatEditRule(ctx context.Context, chatID int64, ruleID *int64) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE chats SET current_edit_rule_id = ? WHERE id = ?`, ruleID, chatID); err != nil {
		return fmt.Errorf("update chat edit rule: %w", err)
	}
	return nil
}

func validateRule(r *model.Rule) error {
	if r.MaxMediaSizeMB <= 0 {
		return fmt.Errorf("max_media_size_mb must be positive, got %v", r.MaxMediaSizeMB)
	}
	if r.DelaySeconds < 0 {
		return fmt.Errorf("delay_seconds must not be negative, got %d", r.DelaySeconds)
	}
	if !summaryTimeRe.MatchString(r.SummaryTime) {
		return fmt.Errorf("summary_time %q does not match HH:MM", r.SummaryTime)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChat(row scannable) (*model.Chat, error) {
	var c model.Chat
	var editRule sql.NullInt64
	var created string
	err := row.Scan(&c.ID, &c.TelegramID, &c.DisplayName, &editRule, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	if editRule.Valid {
		v := editRule.Int64
		c.CurrentEditRuleID = &v
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	return &c, nil
}
