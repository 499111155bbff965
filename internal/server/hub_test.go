package server

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger())
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	return hub
}

func registerAll(t *testing.T, hub *Hub, clients ...*Client) {
	t.Helper()
	for _, client := range clients {
		require.True(t, hub.Register(client))
	}
	require.Eventually(t, func() bool { return hub.Count() == len(clients) }, time.Second, 5*time.Millisecond)
}

// TestHubBroadcastReachesEveryone verifies that Broadcast delivers to all
// registered clients, the originator included.
func TestHubBroadcastReachesEveryone(t *testing.T) {
	hub := startHub(t)
	a := newTestClient(hub, "a", 8)
	b := newTestClient(hub, "b", 8)
	registerAll(t, hub, a, b)

	payload, err := encodeFrame(EventNewMessage, MessageView{ID: "m1", Text: "hi"})
	require.NoError(t, err)
	require.True(t, hub.Broadcast(payload))

	for _, client := range []*Client{a, b} {
		frame := receive(t, client)
		require.Equal(t, EventNewMessage, frame.Type)
		require.Equal(t, "hi", decodePayload[MessageView](t, frame).Text)
	}
}

// TestHubBroadcastFromExcludesSender verifies sender exclusion and that a
// payload from a departed sender is dropped.
func TestHubBroadcastFromExcludesSender(t *testing.T) {
	hub := startHub(t)
	a := newTestClient(hub, "a", 8)
	b := newTestClient(hub, "b", 8)
	registerAll(t, hub, a, b)

	require.True(t, hub.BroadcastFrom(a, errorFrame("from a")))
	require.Equal(t, "from a", decodePayload[ErrorView](t, receive(t, b)).Message)

	hub.Unregister(a)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, hub.BroadcastFrom(a, errorFrame("late")))

	// A marker broadcast proves the late payload was skipped rather than queued.
	require.True(t, hub.Broadcast(errorFrame("marker")))
	require.Equal(t, "marker", decodePayload[ErrorView](t, receive(t, b)).Message)
	requireNothingQueued(t, b)
}

// TestHubDropsSupersededPublish verifies that a keyed message older than one
// already fanned out is dropped, while keys are tracked independently.
func TestHubDropsSupersededPublish(t *testing.T) {
	hub := startHub(t)
	a := newTestClient(hub, "a", 8)
	registerAll(t, hub, a)

	require.True(t, hub.Publish(BroadcastMessage{Payload: errorFrame("v2"), Key: "k", Version: 2}))
	require.True(t, hub.Publish(BroadcastMessage{Payload: errorFrame("v1"), Key: "k", Version: 1}))
	require.True(t, hub.Publish(BroadcastMessage{Payload: errorFrame("other v1"), Key: "other", Version: 1}))
	require.True(t, hub.Publish(BroadcastMessage{Payload: errorFrame("v3"), Key: "k", Version: 3}))

	require.Equal(t, "v2", decodePayload[ErrorView](t, receive(t, a)).Message)
	require.Equal(t, "other v1", decodePayload[ErrorView](t, receive(t, a)).Message)
	require.Equal(t, "v3", decodePayload[ErrorView](t, receive(t, a)).Message)
	requireNothingQueued(t, a)
}

// TestHubLifecycleHooks verifies that the join hook runs on register and the
// leave hook runs exactly once, with its payload fanned out to the others.
func TestHubLifecycleHooks(t *testing.T) {
	hub := NewHub(testLogger())
	var joins, leaves atomic.Int32
	hub.SetLifecycleHooks(
		func(client *Client) {
			joins.Add(1)
			hub.SendTo(client, errorFrame("welcome "+client.UserID()))
		},
		func(client *Client) *BroadcastMessage {
			leaves.Add(1)
			return &BroadcastMessage{Payload: errorFrame("bye " + client.UserID())}
		},
	)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })

	a := newTestClient(hub, "a", 8)
	b := newTestClient(hub, "b", 8)
	registerAll(t, hub, a, b)

	require.Equal(t, "welcome a", decodePayload[ErrorView](t, receive(t, a)).Message)
	require.Equal(t, "welcome b", decodePayload[ErrorView](t, receive(t, b)).Message)
	require.Equal(t, int32(2), joins.Load())

	hub.Unregister(a)
	hub.Unregister(a)
	require.Equal(t, "bye a", decodePayload[ErrorView](t, receive(t, b)).Message)

	// Sync through the loop before counting.
	require.True(t, hub.Broadcast(errorFrame("sync")))
	receive(t, b)
	require.Equal(t, int32(1), leaves.Load())

	_, open := <-a.GetSendChan()
	require.False(t, open)
}

// TestHubEvictsSlowClient verifies that a client whose buffer is full is
// removed without blocking delivery to the others.
func TestHubEvictsSlowClient(t *testing.T) {
	hub := NewHub(testLogger())
	var left atomic.Value
	hub.SetLifecycleHooks(nil, func(client *Client) *BroadcastMessage {
		left.Store(client.UserID())
		return nil
	})
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerAll(t, hub, slow, fast)

	require.True(t, hub.Broadcast(errorFrame("one")))
	require.True(t, hub.Broadcast(errorFrame("two")))

	require.Equal(t, "one", decodePayload[ErrorView](t, receive(t, fast)).Message)
	require.Equal(t, "two", decodePayload[ErrorView](t, receive(t, fast)).Message)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "slow", left.Load())
}

// TestHubSendToUnregistered verifies that unicast to an unknown client fails quietly.
func TestHubSendToUnregistered(t *testing.T) {
	hub := startHub(t)
	stranger := newTestClient(hub, "x", 1)
	require.False(t, hub.SendTo(stranger, errorFrame("nope")))
	requireNothingQueued(t, stranger)
}

// TestHubIgnoresDuplicateRegister verifies a handle is only tracked once.
func TestHubIgnoresDuplicateRegister(t *testing.T) {
	hub := startHub(t)
	a := newTestClient(hub, "a", 8)
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(a))
	require.True(t, hub.Broadcast(errorFrame("once")))

	receive(t, a)
	requireNothingQueued(t, a)
	require.Equal(t, 1, hub.Count())

	var visited []string
	hub.ForEach(func(client *Client) { visited = append(visited, client.UserID()) })
	require.Equal(t, []string{"a"}, visited)
}

// TestHubShutdown verifies that calls made after shutdown return instead of blocking.
func TestHubShutdown(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()

	require.NoError(t, hub.Shutdown(time.Second))

	var registered, broadcast bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		client := newTestClient(hub, "late", 1)
		registered = hub.Register(client)
		hub.Unregister(client)
		broadcast = hub.Broadcast([]byte("x"))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub calls blocked after shutdown")
	}
	require.False(t, registered)
	require.False(t, broadcast)
}
