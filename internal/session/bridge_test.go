package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/livechat/internal/store"
	"github.com/Tyrowin/livechat/internal/store/mocks"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestBridge(t *testing.T, sessions store.SessionRepository) *Bridge {
	t.Helper()
	bridge, err := NewBridge("livechat.sid", testSecret, sessions)
	require.NoError(t, err)
	return bridge
}

func requestWithCookie(name, value string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if value != "" {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return r
}

func TestNewBridgeRejectsShortSecret(t *testing.T) {
	_, err := NewBridge("sid", "short", nil)
	require.Error(t, err)
}

func TestAuthenticateResolvesUser(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionRepository(ctrl)
	bridge := newTestBridge(t, sessions)
	manager := NewManager(bridge, sessions, time.Hour)

	var stored store.Session
	sessions.EXPECT().Put(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, s store.Session) error {
			stored = s
			return nil
		})
	token, expiresAt, err := manager.Create(context.Background(), "user-1")
	req.NoError(err)
	req.Equal(stored.ExpiresAt, expiresAt)

	sessions.EXPECT().Get(gomock.Any(), stored.ID).Return(stored, nil)
	userID, err := bridge.Authenticate(requestWithCookie("livechat.sid", token))
	req.NoError(err)
	req.Equal("user-1", userID)
}

func TestAuthenticateFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionRepository(ctrl)
	bridge := newTestBridge(t, sessions)

	other, err := newTokenCodec("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	forged, err := other.sign("sid-1", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	expired, err := bridge.codec.sign("sid-2", time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	valid, err := bridge.codec.sign("sid-3", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	empty, err := bridge.codec.sign("sid-4", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	sessions.EXPECT().Get(gomock.Any(), "sid-3").Return(store.Session{}, store.ErrNotFound)
	sessions.EXPECT().Get(gomock.Any(), "sid-4").Return(store.Session{ID: "sid-4", ExpiresAt: time.Now().Add(time.Hour)}, nil)

	tests := []struct {
		name  string
		value string
	}{
		{"missing cookie", ""},
		{"garbage token", "not-a-token"},
		{"foreign signature", forged},
		{"expired token", expired},
		{"unknown session", valid},
		{"session without user", empty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bridge.Authenticate(requestWithCookie("livechat.sid", tt.value))
			require.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)
		})
	}
}

func TestDestroyDeletesSession(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionRepository(ctrl)
	bridge := newTestBridge(t, sessions)
	manager := NewManager(bridge, sessions, time.Hour)

	token, err := bridge.codec.sign("sid-9", time.Now(), time.Now().Add(time.Hour))
	req.NoError(err)

	sessions.EXPECT().Delete(gomock.Any(), "sid-9").Return(nil)
	req.NoError(manager.Destroy(context.Background(), token))

	// Unparseable tokens never reach the repository.
	req.NoError(manager.Destroy(context.Background(), "junk"))
}

func TestCookies(t *testing.T) {
	req := require.New(t)
	bridge := newTestBridge(t, nil)
	manager := NewManager(bridge, nil, time.Hour)

	expires := time.Now().Add(time.Hour)
	cookie := manager.Cookie("tok", expires)
	req.Equal("livechat.sid", cookie.Name)
	req.Equal("tok", cookie.Value)
	req.True(cookie.HttpOnly)

	cleared := manager.ExpiredCookie()
	req.Equal(-1, cleared.MaxAge)
	req.Empty(cleared.Value)
}
