package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/Tyrowin/livechat/internal/store"
)

// HistoryLimit bounds the backlog replayed to a joining connection.
const HistoryLimit = 50

// broadcaster is the part of the Hub used by the event components.
type broadcaster interface {
	Broadcast(payload []byte) bool
	Publish(msg BroadcastMessage) bool
	SendTo(client *Client, payload []byte) bool
}

// HistoryLoader replays the most recent messages to a joining connection.
type HistoryLoader struct {
	messages store.MessageRepository
	users    store.UserRepository
	out      broadcaster
	log      *slog.Logger
}

// NewHistoryLoader creates a HistoryLoader.
func NewHistoryLoader(messages store.MessageRepository, users store.UserRepository, out broadcaster, log *slog.Logger) *HistoryLoader {
	return &HistoryLoader{messages: messages, users: users, out: out, log: log}
}

// Load returns up to HistoryLimit messages in chronological order, each
// enriched with its sender's current display attributes. Every distinct
// sender is looked up once.
func (l *HistoryLoader) Load(ctx context.Context) ([]MessageView, error) {
	messages, err := l.messages.Recent(ctx, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent messages: %w", ErrHistoryUnavailable, err)
	}

	senderIDs := lo.Uniq(lo.Map(messages, func(message store.Message, _ int) string {
		return message.SenderID
	}))
	senders := make(map[string]SenderView, len(senderIDs))
	for _, id := range senderIDs {
		sender, err := resolveSender(ctx, l.users, id)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve sender %s: %w", ErrHistoryUnavailable, id, err)
		}
		senders[id] = sender
	}

	views := lo.Map(messages, func(message store.Message, _ int) MessageView {
		return newMessageView(message, senders[message.SenderID])
	})
	slices.Reverse(views)
	return views, nil
}

// Replay sends the backlog to client as a single previousMessages event. On
// failure the client gets an error event and stays connected.
func (l *HistoryLoader) Replay(ctx context.Context, client *Client) error {
	views, err := l.Load(ctx)
	if err == nil {
		var frame []byte
		if frame, err = encodeFrame(EventPreviousMessages, views); err == nil {
			l.out.SendTo(client, frame)
			l.log.Debug("Replayed history", "user_id", client.UserID(), "count", len(views))
			return nil
		}
	}

	l.log.Error("Failed to load previous messages", "user_id", client.UserID(), "error", err)
	l.out.SendTo(client, errorFrame(msgHistoryFailed))
	if !errors.Is(err, ErrHistoryUnavailable) {
		err = fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	return err
}

// resolveSender reads the current display attributes of userID. A missing
// user renders as unknownDisplayName rather than failing.
func resolveSender(ctx context.Context, users store.UserRepository, userID string) (SenderView, error) {
	user, err := users.FindByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return senderView(userID, store.User{}, false), nil
	}
	if err != nil {
		return SenderView{}, err
	}
	return senderView(userID, user, true), nil
}
