package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/livechat/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestRecentOrdering(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Now().UTC()
	for i, text := range []string{"a", "b", "c", "d"} {
		_, err := s.Create(ctx, store.NewMessage{SenderID: "u1", Text: text, CreatedAt: at.Add(time.Duration(i) * time.Second)})
		req.NoError(err)
	}
	// Same timestamp as "d": insertion order breaks the tie.
	_, err := s.Create(ctx, store.NewMessage{SenderID: "u1", Text: "e", CreatedAt: at.Add(3 * time.Second)})
	req.NoError(err)

	messages, err := s.Recent(ctx, 3)
	req.NoError(err)
	req.Len(messages, 3)
	req.Equal([]string{"e", "d", "c"}, []string{messages[0].Text, messages[1].Text, messages[2].Text})

	none, err := s.Recent(ctx, 0)
	req.NoError(err)
	req.Empty(none)
}

func TestUsers(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	req.NoError(s.Upsert(ctx, store.User{ID: "u1", DisplayName: "Ada", Avatar: "ada.png", Email: "ada@example.com"}))
	req.NoError(s.Upsert(ctx, store.User{ID: "u1", DisplayName: "Ada L.", Avatar: "ada2.png", Email: "ada@example.com"}))

	user, err := s.FindByID(ctx, "u1")
	req.NoError(err)
	req.Equal("Ada L.", user.DisplayName)
	req.Equal("ada2.png", user.Avatar)

	_, err = s.FindByID(ctx, "nobody")
	req.ErrorIs(err, store.ErrNotFound)
}

func TestSessions(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	req.NoError(s.Put(ctx, store.Session{ID: "live", UserID: "u1", ExpiresAt: time.Now().Add(time.Minute)}))
	got, err := s.Get(ctx, "live")
	req.NoError(err)
	req.Equal("u1", got.UserID)

	req.NoError(s.Put(ctx, store.Session{ID: "short", UserID: "u2", ExpiresAt: time.Now().Add(50 * time.Millisecond)}))
	time.Sleep(100 * time.Millisecond)
	_, err = s.Get(ctx, "short")
	req.ErrorIs(err, store.ErrNotFound)

	req.NoError(s.Delete(ctx, "live"))
	_, err = s.Get(ctx, "live")
	req.ErrorIs(err, store.ErrNotFound)
}
