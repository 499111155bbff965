// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// EventHandler processes one inbound event. Calls for a single client are
// sequential, in the order the frames arrived.
type EventHandler interface {
	HandleEvent(ctx context.Context, client *Client, frame Frame)
}

// ClientOptions carries the per-connection settings.
type ClientOptions struct {
	UserID         string
	Addr           string
	MaxMessageSize int64
	SendBufferSize int
	RateLimit      RateLimitConfig
	Handler        EventHandler
	Log            *slog.Logger
}

// Client represents one authenticated WebSocket connection. The user id is
// fixed for the lifetime of the connection.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	userID         string
	closed         bool
	departed       atomic.Bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	handler        EventHandler
	log            *slog.Logger
}

// NewClient creates a Client. conn may be nil in tests, in which case the
// hub does not start pumps and payloads can be read from GetSendChan.
func NewClient(conn *websocket.Conn, hub *Hub, opts ClientOptions) *Client {
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	bufferSize := opts.SendBufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultConfig().SendBufferSize
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, bufferSize),
		hub:            hub,
		addr:           opts.Addr,
		userID:         opts.UserID,
		maxMessageSize: opts.MaxMessageSize,
		rateLimiter:    newRateLimiter(opts.RateLimit),
		rateLimit:      opts.RateLimit,
		handler:        opts.Handler,
		log:            log.With("addr", opts.Addr, "user_id", opts.UserID),
	}
}

// UserID returns the authenticated user bound to this connection.
func (c *Client) UserID() string {
	return c.userID
}

// Departed reports whether the hub has removed the client. It is set before
// the leave hook runs and never reset.
func (c *Client) Departed() bool {
	return c.departed.Load()
}

// Addr returns the remote address of the connection.
func (c *Client) Addr() string {
	return c.addr
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError reports why the read loop is stopping.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("Client connection closed", "error", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("Unexpected WebSocket error", "error", err)
	default:
		c.log.Warn("WebSocket read error", "error", err)
	}
}

// checkRateLimit returns false when the event should be discarded.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("Rate limit exceeded; discarding event", "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes one frame and hands it to the event handler.
func (c *Client) processMessage(rawMessage []byte) bool {
	var frame Frame
	if err := json.Unmarshal(rawMessage, &frame); err != nil || frame.Type == "" {
		c.log.Warn("Invalid frame", "error", err)
		c.hub.SendTo(c, errorFrame(msgInvalidPayload))
		return false
	}

	if c.handler == nil {
		return false
	}
	c.handler.HandleEvent(c.hub.Context(), c, frame)
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.log.Warn("Error closing connection in readPump", "error", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		messageType, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.Context().Done():
		return c.writeCloseMessage()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error closing connection in writePump", "error", err)
		}
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("Error writing close message", "error", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("Error writing ping message", "error", err)
		return false
	}
	return true
}
