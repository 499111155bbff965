package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelError)
}

// newTestClient builds a connection-less client; the hub skips pumps for it
// and its payloads are read from GetSendChan.
func newTestClient(hub *Hub, userID string, bufferSize int) *Client {
	return NewClient(nil, hub, ClientOptions{
		UserID:         userID,
		Addr:           "test/" + userID,
		SendBufferSize: bufferSize,
		RateLimit:      RateLimitConfig{Burst: 100, RefillInterval: time.Second},
		Log:            testLogger(),
	})
}

func decodeFrame(t *testing.T, raw []byte) Frame {
	t.Helper()
	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func decodePayload[T any](t *testing.T, frame Frame) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	return payload
}

func receive(t *testing.T, client *Client) Frame {
	t.Helper()
	select {
	case raw, ok := <-client.GetSendChan():
		require.True(t, ok, "send channel closed")
		return decodeFrame(t, raw)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func requireNothingQueued(t *testing.T, client *Client) {
	t.Helper()
	select {
	case raw := <-client.GetSendChan():
		t.Fatalf("unexpected frame: %s", raw)
	default:
	}
}

// fakeBroadcaster records what the event components hand to the hub.
type fakeBroadcaster struct {
	mu         sync.Mutex
	broadcasts [][]byte
	published  []BroadcastMessage
	sent       map[*Client][][]byte
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{sent: make(map[*Client][][]byte)}
}

func (f *fakeBroadcaster) Broadcast(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, payload)
	return true
}

func (f *fakeBroadcaster) Publish(msg BroadcastMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return true
}

func (f *fakeBroadcaster) SendTo(client *Client, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[client] = append(f.sent[client], payload)
	return true
}

func (f *fakeBroadcaster) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

func (f *fakeBroadcaster) publishedMessages() []BroadcastMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BroadcastMessage(nil), f.published...)
}

func (f *fakeBroadcaster) sentTo(client *Client) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[client]...)
}
