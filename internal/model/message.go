package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// MaxContentLength is the longest message body, in characters, the server accepts.
const MaxContentLength = 500

// Status is the delivery state of a message.
type Status string

const (
	StatusUnset   Status = ""
	StatusLoading Status = "loading"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
	StatusRead    Status = "read"
)

// RefKind tells a client-generated id from a server-assigned one.
type RefKind uint8

const (
	Confirmed RefKind = iota
	Provisional
)

// Ref identifies a message. Locally composed messages carry a Provisional
// ref until the server acknowledges them; the record is then replaced by
// one with a Confirmed ref.
type Ref struct {
	Kind     RefKind
	ClientID int64
	ServerID string
}

// ProvisionalRef returns a ref for a message not yet acknowledged by the server.
func ProvisionalRef(clientID int64) Ref {
	return Ref{Kind: Provisional, ClientID: clientID}
}

// ConfirmedRef returns a ref for a server-assigned id.
func ConfirmedRef(serverID string) Ref {
	return Ref{Kind: Confirmed, ServerID: serverID}
}

// IsProvisional reports whether the ref is client-generated.
func (r Ref) IsProvisional() bool { return r.Kind == Provisional }

func (r Ref) String() string {
	if r.Kind == Provisional {
		return strconv.FormatInt(r.ClientID, 10)
	}
	return r.ServerID
}

// Sender is the author of a message as reported by the server.
type Sender struct {
	ID       ID     `json:"id"`
	FullName string `json:"fullName,omitempty"`
}

// Message is one entry of a chat thread.
type Message struct {
	Ref               Ref
	Sender            Sender
	Content           string
	CreatedAt         time.Time
	IsFromCurrentUser bool
	Status            Status
	IsRead            bool
}

// ErrInvalidTransition is returned when a message status change is not allowed.
var ErrInvalidTransition = errors.New("invalid message transition")

// Confirm replaces a loading provisional message with the server's record.
func (m Message) Confirm(server Message) (Message, error) {
	if !m.Ref.IsProvisional() || m.Status != StatusLoading {
		return m, fmt.Errorf("%w: confirm %s message %s", ErrInvalidTransition, m.Status, m.Ref)
	}
	if server.Ref.IsProvisional() || server.Ref.ServerID == "" {
		return m, fmt.Errorf("%w: confirm with provisional ref", ErrInvalidTransition)
	}
	server.Status = StatusSent
	server.IsFromCurrentUser = true
	server.IsRead = server.IsRead || m.IsRead
	if server.CreatedAt.IsZero() {
		server.CreatedAt = m.CreatedAt
	}
	return server, nil
}

// Fail flags a loading provisional message as failed. Content and ref are kept.
func (m Message) Fail() (Message, error) {
	if !m.Ref.IsProvisional() || m.Status != StatusLoading {
		return m, fmt.Errorf("%w: fail %s message %s", ErrInvalidTransition, m.Status, m.Ref)
	}
	m.Status = StatusError
	return m, nil
}

// Retry puts a failed provisional message back in flight.
func (m Message) Retry() (Message, error) {
	if !m.Ref.IsProvisional() || m.Status != StatusError {
		return m, fmt.Errorf("%w: retry %s message %s", ErrInvalidTransition, m.Status, m.Ref)
	}
	m.Status = StatusLoading
	return m, nil
}

// MarkRead sets the read flag. It never clears it.
func (m *Message) MarkRead() {
	m.IsRead = true
	m.Status = StatusRead
}

type messageJSON struct {
	ID                ID        `json:"id"`
	Provisional       bool      `json:"provisional,omitempty"`
	Sender            *Sender   `json:"sender,omitempty"`
	Content           string    `json:"content"`
	CreatedAt         Timestamp `json:"createdAt"`
	IsFromCurrentUser bool      `json:"isFromCurrentUser"`
	Status            Status    `json:"status,omitempty"`
	IsRead            bool      `json:"is_read"`
}

// MarshalJSON encodes the message in the cache and wire shape.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:                ID(m.Ref.String()),
		Provisional:       m.Ref.IsProvisional(),
		Content:           m.Content,
		CreatedAt:         Timestamp(m.CreatedAt),
		IsFromCurrentUser: m.IsFromCurrentUser,
		Status:            m.Status,
		IsRead:            m.IsRead,
	}
	if m.Sender.ID != "" {
		s := m.Sender
		out.Sender = &s
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a message without validating it. Use DecodeMessage
// for data received from the server.
func (m *Message) UnmarshalJSON(b []byte) error {
	var in messageJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*m = Message{
		Content:           in.Content,
		CreatedAt:         time.Time(in.CreatedAt),
		IsFromCurrentUser: in.IsFromCurrentUser,
		Status:            in.Status,
		IsRead:            in.IsRead,
	}
	if in.Sender != nil {
		m.Sender = *in.Sender
	}
	if in.Provisional {
		n, err := strconv.ParseInt(string(in.ID), 10, 64)
		if err != nil {
			return fmt.Errorf("provisional id %q: %w", in.ID, err)
		}
		m.Ref = ProvisionalRef(n)
	} else {
		m.Ref = ConfirmedRef(string(in.ID))
	}
	return nil
}

// DecodeMessage parses and validates a server message. isFromCurrentUser is
// derived here from the sender id when the server reports one.
func DecodeMessage(raw json.RawMessage, currentUserID string) (Message, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Message{}, errors.New("message: missing")
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("message: %w", err)
	}
	if m.Ref.IsProvisional() || m.Ref.ServerID == "" {
		return Message{}, errors.New("message: missing id")
	}
	if m.CreatedAt.IsZero() {
		return Message{}, fmt.Errorf("message %s: missing createdAt", m.Ref)
	}
	if m.Sender.ID != "" && currentUserID != "" {
		m.IsFromCurrentUser = string(m.Sender.ID) == currentUserID
	}
	return m, nil
}
