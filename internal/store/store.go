//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Package store defines the persistence contracts consumed by the chat
// gateway: user profiles, the append-only message log and web sessions.
//
// Two implementations live in subpackages: badgerstore (embedded key-value)
// and sqlitestore (embedded SQL). Both satisfy every interface below.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by identifier has no match, including
// sessions whose TTL has elapsed.
var ErrNotFound = errors.New("not found")

// User is the profile owned by the identity subsystem. The gateway only
// reads it to resolve display attributes.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Message is a persisted chat message. It is immutable once created.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage carries the fields supplied by the caller when persisting a
// message. The identifier is assigned by the repository.
type NewMessage struct {
	SenderID  string
	Text      string
	CreatedAt time.Time
}

// Session maps an opaque session identifier to an authenticated user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// UserRepository resolves user profiles.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (User, error)
	Upsert(ctx context.Context, user User) error
}

// MessageRepository stores and lists chat messages.
type MessageRepository interface {
	Create(ctx context.Context, message NewMessage) (Message, error)
	// Recent returns at most limit messages, newest first.
	Recent(ctx context.Context, limit int) ([]Message, error)
}

// SessionRepository stores web sessions with TTL-based expiry.
type SessionRepository interface {
	Put(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

// Store bundles the repositories of one backend behind a single handle.
type Store interface {
	UserRepository
	MessageRepository
	SessionRepository
	Close() error
}
