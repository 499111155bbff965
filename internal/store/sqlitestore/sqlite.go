// Package sqlitestore implements the store contracts on an embedded SQLite
// database (pure Go driver, no cgo).
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Tyrowin/livechat/internal/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		sender_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at, seq)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
}

// toNanos and fromNanos keep timestamps in UTC with full precision.
func toNanos(value time.Time) int64 {
	return value.UTC().UnixNano()
}

func fromNanos(value int64) time.Time {
	return time.Unix(0, value).UTC()
}

// Store is a SQLite backed store.Store.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens the database file at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	for _, query := range schema {
		if _, err := sqlDB.Exec(query); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// FindByID returns the user with the given id.
func (s *Store) FindByID(ctx context.Context, id string) (store.User, error) {
	var (
		user      store.User
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, display_name, avatar, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.DisplayName, &user.Avatar, &user.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, store.ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("query user: %w", err)
	}
	user.CreatedAt = fromNanos(createdAt)
	return user, nil
}

// Upsert inserts the user or refreshes its profile fields.
func (s *Store) Upsert(ctx context.Context, user store.User) error {
	if user.ID == "" {
		return errors.New("user id is required")
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, display_name, avatar, email, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	display_name = excluded.display_name,
	avatar = excluded.avatar,
	email = excluded.email`,
		user.ID, user.DisplayName, user.Avatar, user.Email, toNanos(createdAt))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// Create appends a message to the log.
func (s *Store) Create(ctx context.Context, message store.NewMessage) (store.Message, error) {
	stored := store.Message{
		ID:        uuid.New().String(),
		SenderID:  message.SenderID,
		Text:      message.Text,
		CreatedAt: message.CreatedAt.UTC(),
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, text, created_at) VALUES (?, ?, ?, ?)`,
		stored.ID, stored.SenderID, stored.Text, toNanos(stored.CreatedAt))
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return stored, nil
}

// Recent returns the newest messages first. Ties on created_at fall back to
// insertion order.
func (s *Store) Recent(ctx context.Context, limit int) ([]store.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, sender_id, text, created_at
FROM messages
ORDER BY created_at DESC, seq DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]store.Message, 0, limit)
	for rows.Next() {
		var (
			message   store.Message
			createdAt int64
		)
		if err := rows.Scan(&message.ID, &message.SenderID, &message.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		message.CreatedAt = fromNanos(createdAt)
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// Put stores or replaces a session.
func (s *Store) Put(ctx context.Context, session store.Session) error {
	if session.Expired(time.Now()) {
		return fmt.Errorf("session %s already expired", session.ID)
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, expires_at = excluded.expires_at`,
		session.ID, session.UserID, toNanos(session.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Get returns a live session. Expired rows are purged lazily on lookup.
func (s *Store) Get(ctx context.Context, id string) (store.Session, error) {
	var (
		session   store.Session
		expiresAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.UserID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("query session: %w", err)
	}
	session.ExpiresAt = fromNanos(expiresAt)
	if session.Expired(time.Now()) {
		_ = s.Delete(ctx, id)
		return store.Session{}, store.ErrNotFound
	}
	return session, nil
}

// Delete removes a session if present.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
