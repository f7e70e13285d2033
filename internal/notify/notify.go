// Package notify raises local notifications for messages that arrive in a
// chat the user is not looking at.
package notify

import (
	"context"
	"time"

	"github.com/matheus3301/securetalk/internal/bus"
	"github.com/matheus3301/securetalk/internal/session"
	"go.uber.org/zap"
)

const notifyTimeout = 10 * time.Second

// Notification is one local alert.
type Notification struct {
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// Notifier delivers a notification to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Dispatcher decides whether a message deserves a notification.
type Dispatcher struct {
	notifier Notifier
	state    *session.State
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher delivering through n.
func NewDispatcher(n Notifier, state *session.State, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{notifier: n, state: state, logger: logger}
}

// Dispatch notifies about a message unless its chat is on screen or the
// current user sent it. Delivery happens in the background; the result
// reports whether it was started.
func (d *Dispatcher) Dispatch(chatID, senderID, title, body string) bool {
	if d.state.IsActive(chatID) {
		return false
	}
	if me := d.state.UserID(); me != "" && senderID == me {
		return false
	}
	n := Notification{ChatID: chatID, SenderID: senderID, Title: title, Body: body}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.Warn("notification failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}()
	return true
}

// BusNotifier publishes notifications for connected clients to display.
type BusNotifier struct {
	bus *bus.Bus
}

// NewBusNotifier creates a notifier publishing on b.
func NewBusNotifier(b *bus.Bus) *BusNotifier {
	return &BusNotifier{bus: b}
}

func (n *BusNotifier) Notify(_ context.Context, note Notification) error {
	n.bus.Emit(bus.KindNotify, note)
	return nil
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info("new message", zap.String("chat_id", note.ChatID), zap.String("from", note.Title), zap.String("body", note.Body))
	return nil
}

// Multi delivers through every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, note Notification) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil && first == nil {
			first = err
		}
	}
	return first
}
