package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/livechat/internal/store"
)

// Manager issues and revokes sessions. It shares the token format with
// Bridge so cookies it sets are accepted by the WebSocket handshake.
type Manager struct {
	bridge   *Bridge
	sessions store.SessionRepository
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a Manager issuing sessions valid for ttl.
func NewManager(bridge *Bridge, sessions store.SessionRepository, ttl time.Duration) *Manager {
	return &Manager{bridge: bridge, sessions: sessions, ttl: ttl, now: time.Now}
}

// Create stores a new session for userID and returns the signed cookie value.
func (m *Manager) Create(ctx context.Context, userID string) (string, time.Time, error) {
	now := m.now()
	sess := store.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.sessions.Put(ctx, sess); err != nil {
		return "", time.Time{}, fmt.Errorf("store session: %w", err)
	}
	token, err := m.bridge.codec.sign(sess.ID, now, sess.ExpiresAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, sess.ExpiresAt, nil
}

// Destroy revokes the session behind token. Invalid tokens are ignored.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	sessionID, err := m.bridge.codec.parse(token)
	if err != nil {
		return nil
	}
	return m.sessions.Delete(ctx, sessionID)
}

// Cookie builds the HTTP cookie carrying token.
func (m *Manager) Cookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     m.bridge.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie builds a cookie that clears the session in the browser.
func (m *Manager) ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.bridge.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
