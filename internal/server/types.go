// Package server defines shared broadcast types and utility helpers that
// are reused across client and hub logic.
package server

import (
	"errors"
	"strings"
)

var (
	// ErrHistoryUnavailable is reported when the backlog cannot be loaded.
	// The connection stays open.
	ErrHistoryUnavailable = errors.New("history unavailable")
	// ErrSendFailed is reported to the sender when a message could not be
	// persisted. Nothing is broadcast.
	ErrSendFailed = errors.New("send failed")
	// ErrMessageTooLong is reported when a message exceeds MaxTextLength.
	ErrMessageTooLong = errors.New("message too long")
)

// BroadcastMessage encapsulates a payload being fanned out by the hub.
// When Sender is set the payload is delivered to everyone except the sender,
// and it is dropped entirely if the sender has already left the hub.
// Messages sharing a non-empty Key are versioned: once a version has been
// fanned out, older versions for that key are dropped.
type BroadcastMessage struct {
	Sender  *Client
	Payload []byte
	Key     string
	Version uint64
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
