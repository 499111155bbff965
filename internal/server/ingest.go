package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/livechat/internal/store"
)

// MaxTextLength is the longest accepted message, in runes.
const MaxTextLength = 2000

// MinMessageSize is the smallest read limit that lets a sendMessage frame
// carrying MaxTextLength runes of raw UTF-8 through, so longer text gets the
// error event instead of a closed connection.
const MinMessageSize = MaxTextLength*utf8.UTFMax + frameOverhead

const frameOverhead = 64

var textRule = fmt.Sprintf("max=%d", MaxTextLength)

// Ingestor persists inbound messages and broadcasts them to every
// connection, sender included.
type Ingestor struct {
	users    store.UserRepository
	messages store.MessageRepository
	out      broadcaster
	validate *validator.Validate
	log      *slog.Logger

	// mu makes persist and enqueue one step, so broadcast order is commit order.
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewIngestor creates an Ingestor.
func NewIngestor(users store.UserRepository, messages store.MessageRepository, out broadcaster, log *slog.Logger) *Ingestor {
	return &Ingestor{
		users:    users,
		messages: messages,
		out:      out,
		validate: validator.New(),
		log:      log,
		now:      time.Now,
	}
}

// Send handles one sendMessage event. Blank text is ignored. Failures are
// reported to the sender only and returned for logging.
func (i *Ingestor) Send(ctx context.Context, client *Client, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if err := i.validate.Var(text, textRule); err != nil {
		i.log.Info("Rejected oversized message", "user_id", client.UserID(), "runes", utf8.RuneCountInString(text))
		i.out.SendTo(client, errorFrame(msgTooLong))
		return fmt.Errorf("%w: %w", ErrMessageTooLong, err)
	}

	sender, err := resolveSender(ctx, i.users, client.UserID())
	if err != nil {
		return i.fail(client, "resolve sender", err)
	}

	if err := i.commit(ctx, client, sender, text); err != nil {
		return i.fail(client, "persist message", err)
	}
	return nil
}

func (i *Ingestor) commit(ctx context.Context, client *Client, sender SenderView, text string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	message, err := i.messages.Create(ctx, store.NewMessage{
		SenderID:  client.UserID(),
		Text:      text,
		CreatedAt: i.nextTimestamp(),
	})
	if err != nil {
		return err
	}

	frame, err := encodeFrame(EventNewMessage, newMessageView(message, sender))
	if err != nil {
		return err
	}
	if !i.out.Broadcast(frame) {
		i.log.Warn("Hub stopped before message could be broadcast", "message_id", message.ID)
	}
	return nil
}

// nextTimestamp returns a strictly increasing timestamp. Must be called with
// mu held.
func (i *Ingestor) nextTimestamp() time.Time {
	now := i.now().UTC()
	if !now.After(i.last) {
		now = i.last.Add(time.Nanosecond)
	}
	i.last = now
	return now
}

func (i *Ingestor) fail(client *Client, step string, err error) error {
	i.log.Error("Failed to send message", "step", step, "user_id", client.UserID(), "error", err)
	i.out.SendTo(client, errorFrame(msgSendFailed))
	return fmt.Errorf("%w: %s: %w", ErrSendFailed, step, err)
}
