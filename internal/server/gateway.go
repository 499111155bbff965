package server

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/livechat/internal/session"
	"github.com/Tyrowin/livechat/internal/store"
)

// Dependencies are the collaborators the gateway is built from.
type Dependencies struct {
	Users    store.UserRepository
	Messages store.MessageRepository
	Bridge   *session.Bridge
	Sessions *session.Manager
}

// Server is the chat gateway: it authenticates handshakes, owns the hub and
// dispatches inbound events to the ingest and presence components.
type Server struct {
	cfg      Config
	hub      *Hub
	history  *HistoryLoader
	ingest   *Ingestor
	presence *PresenceTracker
	bridge   *session.Bridge
	sessions *session.Manager
	users    store.UserRepository
	origins  originPolicy
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer wires a gateway. Call Start before serving requests.
func NewServer(cfg Config, deps Dependencies, log *slog.Logger) *Server {
	hub := NewHub(log.With("component", "hub"))
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		history:  NewHistoryLoader(deps.Messages, deps.Users, hub, log.With("component", "history")),
		ingest:   NewIngestor(deps.Users, deps.Messages, hub, log.With("component", "ingest")),
		presence: NewPresenceTracker(deps.Users, hub, cfg.TypingTimeout, log.With("component", "presence")),
		bridge:   deps.Bridge,
		sessions: deps.Sessions,
		users:    deps.Users,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	hub.SetLifecycleHooks(s.onJoin, s.presence.Leave)
	return s
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub loop in the background.
func (s *Server) Start() {
	go s.hub.Run()
	s.log.Info("Hub started and ready to manage WebSocket connections")
}

// Shutdown closes every connection and waits for their goroutines.
func (s *Server) Shutdown() error {
	s.presence.Close()
	return s.hub.Shutdown(s.cfg.ShutdownTimeout)
}

func (s *Server) onJoin(client *Client) {
	_ = s.history.Replay(s.hub.Context(), client)
}

// HandleEvent dispatches one inbound frame.
func (s *Server) HandleEvent(ctx context.Context, client *Client, frame Frame) {
	switch frame.Type {
	case EventSendMessage:
		text, err := decodeText(frame.Payload)
		if err != nil {
			s.rejectPayload(client, frame.Type, err)
			return
		}
		if text == nil {
			return
		}
		if err := s.ingest.Send(ctx, client, *text); err != nil {
			s.log.Debug("sendMessage not delivered", "user_id", client.UserID(), "error", err)
		}

	case EventTyping:
		text, err := decodeText(frame.Payload)
		if err != nil {
			s.rejectPayload(client, frame.Type, err)
			return
		}
		s.presence.Typing(ctx, client, text)

	case EventStopTyping:
		s.presence.StopTyping(ctx, client)

	default:
		s.log.Warn("Unsupported event", "type", frame.Type, "user_id", client.UserID())
		s.hub.SendTo(client, errorFrame(msgUnsupported))
	}
}

func (s *Server) rejectPayload(client *Client, eventType string, err error) {
	s.log.Warn("Invalid event payload", "type", eventType, "user_id", client.UserID(), "error", err)
	s.hub.SendTo(client, errorFrame(msgInvalidPayload))
}
