// Package server implements the livechat WebSocket gateway.
//
// A Hub owns the set of open connections and fans out events. Each
// connection is a Client with its own read and write pumps. Inbound events
// are dispatched by Server to the Ingestor (sendMessage) and the
// PresenceTracker (typing, stopTyping); the HistoryLoader replays the recent
// backlog to every new connection.
//
// Every WebSocket frame carries one JSON event of the form
// {"type": ..., "payload": ...}.
package server
