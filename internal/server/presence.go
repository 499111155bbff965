package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/livechat/internal/store"
)

// typingState is the live draft of one user. The owner is the connection
// that sent the latest typing signal.
type typingState struct {
	owner  *Client
	text   string
	sender SenderView
	timer  *time.Timer
	gen    uint64
}

// PresenceTracker keeps per-user typing state and broadcasts changes to
// every connection except the one that caused them.
//
// Each change bumps a tracker-wide sequence and its broadcast carries that
// version keyed by user id, so the hub never fans out a change older than one
// it already delivered. mu is never held while talking to the hub.
type PresenceTracker struct {
	users   store.UserRepository
	out     broadcaster
	timeout time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	states   map[string]*typingState
	seq      uint64
	timerGen uint64
	closed   bool
}

// NewPresenceTracker creates a tracker. A timeout of zero disables
// server-side expiry of typing state.
func NewPresenceTracker(users store.UserRepository, out broadcaster, timeout time.Duration, log *slog.Logger) *PresenceTracker {
	return &PresenceTracker{
		users:   users,
		out:     out,
		timeout: timeout,
		log:     log,
		states:  make(map[string]*typingState),
	}
}

// Typing records that client's user is typing text. A nil text is treated as
// an empty draft. Repeating the current draft only refreshes the expiry.
func (p *PresenceTracker) Typing(ctx context.Context, client *Client, text *string) {
	draft := ""
	if text != nil {
		draft = *text
	}
	userID := client.UserID()
	if client.Departed() {
		return
	}

	p.mu.Lock()
	if state, ok := p.states[userID]; ok && state.owner == client && state.text == draft {
		p.armTimerLocked(userID, state)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	sender, err := resolveSender(ctx, p.users, userID)
	if err != nil {
		p.log.Warn("Failed to resolve typing user", "user_id", userID, "error", err)
		sender = p.cachedSender(userID)
	}

	p.mu.Lock()
	// The hub marks departure before Leave takes mu, so either Leave sees this
	// state or the check below stops it from being created.
	if p.closed || client.Departed() {
		p.mu.Unlock()
		return
	}
	state, ok := p.states[userID]
	if !ok {
		state = &typingState{}
		p.states[userID] = state
	}
	state.owner = client
	state.text = draft
	state.sender = sender
	version := p.bumpLocked()
	p.armTimerLocked(userID, state)
	p.mu.Unlock()

	p.publish(client, userID, typingView(userID, sender, draft, true), version)
}

// StopTyping clears client's typing state. It is a no-op unless client owns
// the current state.
func (p *PresenceTracker) StopTyping(_ context.Context, client *Client) {
	userID := client.UserID()

	p.mu.Lock()
	state, ok := p.states[userID]
	if !ok || state.owner != client {
		p.mu.Unlock()
		return
	}
	version := p.clearLocked(userID, state)
	p.mu.Unlock()

	p.publish(client, userID, typingView(userID, state.sender, "", false), version)
}

// Leave runs when client is removed from the hub. If client owned its
// user's typing state the state is cleared and the stop event is returned
// for the hub to fan out. Display attributes come from the last typing
// signal so cleanup never waits on the repository.
func (p *PresenceTracker) Leave(client *Client) *BroadcastMessage {
	userID := client.UserID()

	p.mu.Lock()
	state, ok := p.states[userID]
	if !ok || state.owner != client {
		p.mu.Unlock()
		return nil
	}
	version := p.clearLocked(userID, state)
	p.mu.Unlock()

	payload, err := encodeFrame(EventUserTyping, typingView(userID, state.sender, "", false))
	if err != nil {
		p.log.Error("Failed to encode stop typing event", "user_id", userID, "error", err)
		return nil
	}
	return &BroadcastMessage{Payload: payload, Key: typingKey(userID), Version: version}
}

// IsTyping reports whether userID currently has typing state.
func (p *PresenceTracker) IsTyping(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.states[userID]
	return ok
}

// Close stops all expiry timers. Typing signals received afterwards are
// ignored.
func (p *PresenceTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, state := range p.states {
		if state.timer != nil {
			state.timer.Stop()
		}
	}
}

func (p *PresenceTracker) expire(userID string, gen uint64) {
	p.mu.Lock()
	state, ok := p.states[userID]
	if !ok || state.gen != gen || p.closed {
		p.mu.Unlock()
		return
	}
	version := p.clearLocked(userID, state)
	p.mu.Unlock()

	p.log.Debug("Typing state expired", "user_id", userID)
	p.publish(state.owner, userID, typingView(userID, state.sender, "", false), version)
}

func (p *PresenceTracker) publish(sender *Client, userID string, view TypingView, version uint64) {
	payload, err := encodeFrame(EventUserTyping, view)
	if err != nil {
		p.log.Error("Failed to encode typing event", "user_id", userID, "error", err)
		return
	}
	p.out.Publish(BroadcastMessage{
		Sender:  sender,
		Payload: payload,
		Key:     typingKey(userID),
		Version: version,
	})
}

func (p *PresenceTracker) cachedSender(userID string) SenderView {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok := p.states[userID]; ok {
		return state.sender
	}
	return senderView(userID, store.User{}, false)
}

func (p *PresenceTracker) bumpLocked() uint64 {
	p.seq++
	return p.seq
}

func (p *PresenceTracker) clearLocked(userID string, state *typingState) uint64 {
	if state.timer != nil {
		state.timer.Stop()
	}
	state.gen = 0
	delete(p.states, userID)
	return p.bumpLocked()
}

// armTimerLocked (re)starts the expiry timer. A fired timer whose generation
// no longer matches is ignored by expire.
func (p *PresenceTracker) armTimerLocked(userID string, state *typingState) {
	if p.timeout <= 0 {
		return
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	p.timerGen++
	gen := p.timerGen
	state.gen = gen
	state.timer = time.AfterFunc(p.timeout, func() { p.expire(userID, gen) })
}

func typingKey(userID string) string {
	return "typing:" + userID
}

func typingView(userID string, sender SenderView, text string, isTyping bool) TypingView {
	return TypingView{
		UserID:      userID,
		DisplayName: sender.DisplayName,
		Avatar:      sender.Avatar,
		Text:        text,
		IsTyping:    isTyping,
	}
}
