package badgerstore

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/livechat/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestRecentReturnsNewestFirstAndHonoursLimit(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Now().UTC()
	texts := []string{"first", "second", "third"}
	for i, text := range texts {
		_, err := s.Create(ctx, store.NewMessage{SenderID: "alice", Text: text, CreatedAt: at.Add(time.Duration(i) * time.Minute)})
		req.NoError(err)
	}

	all, err := s.Recent(ctx, 50)
	req.NoError(err)
	req.Len(all, 3)
	req.Equal("third", all[0].Text)
	req.Equal("second", all[1].Text)
	req.Equal("first", all[2].Text)

	limited, err := s.Recent(ctx, 2)
	req.NoError(err)
	req.Len(limited, 2)
	req.Equal("third", limited[0].Text)
}

func TestCreateAssignsIdentifier(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	message, err := s.Create(context.Background(), store.NewMessage{SenderID: "bob", Text: "hi", CreatedAt: time.Now()})
	req.NoError(err)
	req.NotEmpty(message.ID)
	req.Equal("bob", message.SenderID)
	req.Equal(time.UTC, message.CreatedAt.Location())
}

func TestRecentIgnoresOtherPrefixes(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	req.NoError(s.Upsert(ctx, store.User{ID: "zed", DisplayName: "Zed"}))
	req.NoError(s.Put(ctx, store.Session{ID: "s1", UserID: "zed", ExpiresAt: time.Now().Add(time.Hour)}))

	messages, err := s.Recent(ctx, 10)
	req.NoError(err)
	req.Empty(messages)
}

func TestUpsertKeepsCreatedAt(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	req.NoError(s.Upsert(ctx, store.User{ID: "u1", DisplayName: "Old", CreatedAt: created}))
	req.NoError(s.Upsert(ctx, store.User{ID: "u1", DisplayName: "New", Avatar: "a.png"}))

	user, err := s.FindByID(ctx, "u1")
	req.NoError(err)
	req.Equal("New", user.DisplayName)
	req.Equal("a.png", user.Avatar)
	req.True(created.Equal(user.CreatedAt))

	_, err = s.FindByID(ctx, "missing")
	req.ErrorIs(err, store.ErrNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	session := store.Session{ID: "sid", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	req.NoError(s.Put(ctx, session))

	got, err := s.Get(ctx, "sid")
	req.NoError(err)
	req.Equal("u1", got.UserID)

	req.NoError(s.Delete(ctx, "sid"))
	_, err = s.Get(ctx, "sid")
	req.ErrorIs(err, store.ErrNotFound)

	req.Error(s.Put(ctx, store.Session{ID: "old", UserID: "u1", ExpiresAt: time.Now().Add(-time.Second)}))
}
