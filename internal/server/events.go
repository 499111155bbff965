package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tyrowin/livechat/internal/store"
)

// Event types exchanged over the WebSocket. Every frame carries exactly one
// event encoded as {"type": ..., "payload": ...}.
const (
	EventSendMessage      = "sendMessage"
	EventTyping           = "typing"
	EventStopTyping       = "stopTyping"
	EventPreviousMessages = "previousMessages"
	EventNewMessage       = "newMessage"
	EventUserTyping       = "userTyping"
	EventError            = "error"
)

// unknownDisplayName is shown for messages whose sender no longer resolves.
const unknownDisplayName = "Unknown user"

// Messages carried by error events.
const (
	msgHistoryFailed  = "Failed to load previous messages"
	msgSendFailed     = "Failed to send message"
	msgTooLong        = "Message is too long"
	msgInvalidPayload = "Invalid event payload"
	msgUnsupported    = "Unsupported event"
)

// Frame is the envelope of every event.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SenderView is the display form of a message author.
type SenderView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// MessageView is a persisted message enriched with its sender's current
// display attributes.
type MessageView struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
	Sender    SenderView `json:"sender"`
}

// TypingView is the payload of a userTyping event.
type TypingView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	Text        string `json:"text"`
	IsTyping    bool   `json:"isTyping"`
}

// ErrorView is the payload of an error event.
type ErrorView struct {
	Message string `json:"message"`
}

func senderView(userID string, user store.User, found bool) SenderView {
	if !found {
		return SenderView{ID: userID, DisplayName: unknownDisplayName}
	}
	return SenderView{ID: userID, DisplayName: user.DisplayName, Avatar: user.Avatar}
}

func newMessageView(message store.Message, sender SenderView) MessageView {
	return MessageView{
		ID:        message.ID,
		Text:      message.Text,
		Timestamp: message.CreatedAt,
		Sender:    sender,
	}
}

// encodeFrame marshals payload into a frame of the given type.
func encodeFrame(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Frame{Type: eventType, Payload: raw})
}

// errorFrame builds an error event. It cannot fail for a plain string.
func errorFrame(message string) []byte {
	frame, _ := encodeFrame(EventError, ErrorView{Message: message})
	return frame
}

// decodeText reads the text argument of sendMessage and typing events. It
// accepts a bare JSON string, null, or an object {"text": ...}. A nil result
// means no text was supplied.
func decodeText(raw json.RawMessage) (*string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, err
		}
		return &text, nil
	}
	var payload struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, err
	}
	return payload.Text, nil
}
