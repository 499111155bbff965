// Package server coordinates connection registration, fan-out and cleanup
// for the chat gateway via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JoinHook runs once for every newly registered client, on its own goroutine.
type JoinHook func(client *Client)

// LeaveHook runs inside the hub loop once a client has been removed. A
// non-nil message is fanned out to the remaining clients.
type LeaveHook func(client *Client) *BroadcastMessage

// Hub is the connection registry. It owns the set of open clients, fans out
// broadcasts in the order they are submitted and runs the join/leave hooks.
// All registry mutation happens on the Run goroutine; snapshots are taken
// under a read lock.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	onJoin     JoinHook
	onLeave    LeaveHook
	delivered  map[string]uint64 // owned by the Run goroutine
	log        *slog.Logger
}

// NewHub creates a Hub ready to be started with Run.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		delivered:  make(map[string]uint64),
		log:        log,
	}
}

// SetLifecycleHooks installs the join and leave hooks. It must be called
// before Run.
func (h *Hub) SetLifecycleHooks(onJoin JoinHook, onLeave LeaveHook) {
	h.onJoin = onJoin
	h.onLeave = onLeave
}

// Context is cancelled when the hub shuts down.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// Register adds a client. It returns false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client. Removing an unknown or already removed
// client is a no-op, so the leave hook fires at most once per client.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Broadcast queues payload for every registered client.
func (h *Hub) Broadcast(payload []byte) bool {
	return h.enqueue(BroadcastMessage{Payload: payload})
}

// BroadcastFrom queues payload for every client except sender. The payload
// is dropped if sender is no longer registered when the hub reaches it.
func (h *Hub) BroadcastFrom(sender *Client, payload []byte) bool {
	return h.enqueue(BroadcastMessage{Sender: sender, Payload: payload})
}

// Publish queues a fully specified broadcast.
func (h *Hub) Publish(msg BroadcastMessage) bool {
	return h.enqueue(msg)
}

func (h *Hub) enqueue(msg BroadcastMessage) bool {
	select {
	case h.broadcast <- msg:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// SendTo delivers payload to a single client without blocking. A client
// whose buffer is full is unregistered.
func (h *Hub) SendTo(client *Client, payload []byte) bool {
	if h.safeSend(client, payload) {
		return true
	}
	if h.isRegistered(client) {
		h.log.Warn("Dropping client with full send buffer", "addr", client.addr, "user_id", client.userID)
		h.Unregister(client)
	}
	return false
}

// ForEach calls visitor for every registered client. The registry may change
// while visitor runs; it sees a snapshot.
func (h *Hub) ForEach(visitor func(*Client)) {
	for _, client := range h.getClientSnapshot() {
		visitor(client)
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) isRegistered(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, exists := h.clients[client]
	return exists
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", "panic", r)
		}
	}()

	// Holding the read lock keeps the channel from being closed mid-send.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClients([]*Client{client}, "disconnected")

		case broadcastMsg := <-h.broadcast:
			h.handleBroadcast(broadcastMsg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	if client == nil {
		h.log.Warn("Received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	if _, exists := h.clients[client]; exists || client.closed {
		h.mutex.Unlock()
		h.log.Debug("Ignoring registration of known client", "addr", client.addr)
		return
	}
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.log.Info("Client registered", "addr", client.addr, "user_id", client.userID, "clients", clientCount)

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	if h.onJoin != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.onJoin(client)
		}()
	}
}

// handleBroadcast fans a message out to every client except its sender.
func (h *Hub) handleBroadcast(broadcastMsg BroadcastMessage) {
	if broadcastMsg.Sender != nil && !h.isRegistered(broadcastMsg.Sender) {
		h.log.Debug("Dropping broadcast from departed client", "addr", broadcastMsg.Sender.addr)
		return
	}
	if !h.admit(broadcastMsg) {
		h.log.Debug("Dropping superseded broadcast", "key", broadcastMsg.Key, "version", broadcastMsg.Version)
		return
	}

	clients := h.getClientSnapshot()
	failed := h.broadcastToClients(clients, broadcastMsg)
	h.removeClients(failed, "send buffer full")
}

// admit records the version of a keyed message and reports whether it is
// newer than anything already fanned out for that key.
func (h *Hub) admit(msg BroadcastMessage) bool {
	if msg.Key == "" {
		return true
	}
	if msg.Version <= h.delivered[msg.Key] {
		return false
	}
	h.delivered[msg.Key] = msg.Version
	return true
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// broadcastToClients sends the message to all clients except the sender and returns failed clients
func (h *Hub) broadcastToClients(clients []*Client, broadcastMsg BroadcastMessage) []*Client {
	var clientsToRemove []*Client

	for _, client := range clients {
		if broadcastMsg.Sender != nil && client == broadcastMsg.Sender {
			continue
		}
		if !h.safeSend(client, broadcastMsg.Payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	return clientsToRemove
}

// removeClients drops clients from the registry, closes their send channels
// and runs the leave hook for each one actually removed. Leave messages are
// fanned out immediately; recipients that cannot take them are removed in
// turn.
func (h *Hub) removeClients(clients []*Client, reason string) {
	queue := clients
	for len(queue) > 0 {
		h.mutex.Lock()
		var removed []*Client
		for _, client := range queue {
			if client == nil {
				continue
			}
			if _, exists := h.clients[client]; exists {
				delete(h.clients, client)
				client.closed = true
				client.departed.Store(true)
				removed = append(removed, client)
			}
		}
		clientCount := len(h.clients)
		h.mutex.Unlock()

		// Close channels after releasing the lock
		for _, client := range removed {
			close(client.send)
			h.log.Info("Client unregistered", "addr", client.addr, "user_id", client.userID, "reason", reason, "clients", clientCount)
		}

		queue = nil
		reason = "send buffer full"
		if h.onLeave == nil {
			continue
		}
		for _, client := range removed {
			msg := h.onLeave(client)
			if msg == nil || !h.admit(*msg) {
				continue
			}
			failed := h.broadcastToClients(h.getClientSnapshot(), *msg)
			queue = append(queue, failed...)
		}
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	clients := h.getClientSnapshot()
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Warn("Error closing client connection", "addr", client.addr, "error", err)
				}
			}
		}
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
