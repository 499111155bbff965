// Package session resolves the authenticated user behind an inbound
// connection from its web session cookie, and creates or destroys those
// sessions for the login and logout routes.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Tyrowin/livechat/internal/store"
)

// ErrUnauthorized is returned when a request carries no resolvable session
// identity. Callers must reject the handshake.
var ErrUnauthorized = errors.New("unauthorized")

// Bridge extracts the authenticated user identifier from a request's session
// cookie.
type Bridge struct {
	cookieName string
	codec      tokenCodec
	sessions   store.SessionRepository
}

// NewBridge builds a Bridge reading cookieName and verifying tokens signed
// with secret.
func NewBridge(cookieName, secret string, sessions store.SessionRepository) (*Bridge, error) {
	codec, err := newTokenCodec(secret)
	if err != nil {
		return nil, err
	}
	return &Bridge{cookieName: cookieName, codec: codec, sessions: sessions}, nil
}

// CookieName returns the name of the session cookie.
func (b *Bridge) CookieName() string {
	return b.cookieName
}

// Authenticate returns the user id of the session attached to r. It has no
// side effects. Every failure wraps ErrUnauthorized.
func (b *Bridge) Authenticate(r *http.Request) (string, error) {
	token := b.tokenFromRequest(r)
	if token == "" {
		return "", fmt.Errorf("%w: missing session cookie", ErrUnauthorized)
	}
	return b.Resolve(r.Context(), token)
}

// Resolve validates a raw session token and returns its user id.
func (b *Bridge) Resolve(ctx context.Context, token string) (string, error) {
	sessionID, err := b.codec.parse(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if sess.Expired(time.Now()) {
		return "", fmt.Errorf("%w: session expired", ErrUnauthorized)
	}
	userID := strings.TrimSpace(sess.UserID)
	if userID == "" {
		return "", fmt.Errorf("%w: session has no user", ErrUnauthorized)
	}
	return userID, nil
}

func (b *Bridge) tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	cookie, err := r.Cookie(b.cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
