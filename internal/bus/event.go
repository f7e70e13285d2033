package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the daemon. Subscribers match by prefix, so
// "chats." receives every chat-list event.
const (
	KindChatsUpdated   = "chats.updated"
	KindThreadUpdated  = "thread.updated"
	KindThreadClosed   = "thread.closed"
	KindMessageSent    = "thread.message_sent"
	KindMessageFailed  = "thread.message_failed"
	KindNotify         = "notify.message"
	KindStatusChanged  = "session.status_changed"
	KindSessionSignOut = "session.signed_out"
)
