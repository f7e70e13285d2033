// Package stream keeps the realtime websocket connections to the chat server:
// one long-lived connection to the home channel and one per open chat.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/securetalk/internal/model"
)

// Frame types exchanged over the socket.
const (
	TypeNewMessage    = "new_message"
	TypeMarkAsRead    = "mark_as_read"
	TypeMarkAllAsRead = "mark_all_as_read"
)

// Scope tells the home connection from a chat connection.
type Scope string

const (
	ScopeHome Scope = "home"
	ScopeChat Scope = "chat"
)

// Event is a decoded inbound frame. Stream is the chat the connection is
// bound to and is empty for the home connection.
type Event struct {
	Scope     Scope
	Stream    string
	Type      string
	ChatID    string
	MessageID string
	Message   *model.Message
}

// Connected is delivered after every successful dial. Redial is false only
// for the first connection of a stream.
type Connected struct {
	Scope  Scope
	ChatID string
	Redial bool
}

// Disconnected is delivered when a connection drops or a dial fails.
type Disconnected struct {
	Scope     Scope
	ChatID    string
	Err       error
	WillRetry bool
}

// Reconnecting is delivered before a reconnect attempt.
type Reconnecting struct {
	Scope   Scope
	ChatID  string
	Attempt int
}

// Handler receives *Event, *Connected, *Disconnected and *Reconnecting
// values. It is called from the connection's reader goroutine, one event at
// a time and in arrival order.
type Handler func(evt any)

type inboundFrame struct {
	Type      string          `json:"type"`
	ChatID    model.ID        `json:"chat_id"`
	MessageID model.ID        `json:"message_id"`
	Message   json.RawMessage `json:"message"`
}

// decodeFrame validates one inbound frame. Anything it cannot trust is
// rejected whole.
func decodeFrame(data []byte, scope Scope, streamChat, me string) (*Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.ChatID == "" {
		return nil, errors.New("frame has no chat_id")
	}
	evt := &Event{
		Scope:  scope,
		Stream: streamChat,
		Type:   f.Type,
		ChatID: string(f.ChatID),
	}
	switch f.Type {
	case TypeNewMessage:
		m, err := model.DecodeMessage(f.Message, me)
		if err != nil {
			return nil, err
		}
		evt.Message = &m
	case TypeMarkAsRead:
		if f.MessageID == "" {
			return nil, errors.New("mark_as_read frame has no message_id")
		}
		evt.MessageID = string(f.MessageID)
	case TypeMarkAllAsRead:
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return evt, nil
}

// Outbound is a frame sent to the server.
type Outbound struct {
	Type      string          `json:"type"`
	ChatID    any             `json:"chat_id"`
	MessageID any             `json:"message_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// MarkAllAsRead tells the other participant every message of the chat was read.
func MarkAllAsRead(chatID string) Outbound {
	return Outbound{Type: TypeMarkAllAsRead, ChatID: model.ID(chatID).JSONValue()}
}

// MarkAsRead tells the other participant one message was read.
func MarkAsRead(chatID, messageID string) Outbound {
	return Outbound{
		Type:      TypeMarkAsRead,
		ChatID:    model.ID(chatID).JSONValue(),
		MessageID: model.ID(messageID).JSONValue(),
	}
}

// NewMessage relays a message the server already accepted. raw is the
// server's own record of it.
func NewMessage(chatID string, raw json.RawMessage) Outbound {
	return Outbound{Type: TypeNewMessage, ChatID: model.ID(chatID).JSONValue(), Message: raw}
}
