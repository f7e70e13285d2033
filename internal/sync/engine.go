package sync

import (
	"context"

	"github.com/matheus3301/securetalk/internal/logging"
	"github.com/matheus3301/securetalk/internal/status"
	"github.com/matheus3301/securetalk/internal/stream"
	"go.uber.org/zap"
)

// Dispatcher raises a notification for a message that arrived off screen.
type Dispatcher interface {
	Dispatch(chatID, senderID, title, body string) bool
}

// Engine routes stream events to the chat list, the open threads and the
// notification dispatcher, and tracks the home stream in the status machine.
type Engine struct {
	chats   *ChatList
	threads *Threads
	notify  Dispatcher
	status  *status.Machine
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(chats *ChatList, threads *Threads, notify Dispatcher, sm *status.Machine, logger *zap.Logger) *Engine {
	logger = logging.OrNop(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		chats:   chats,
		threads: threads,
		notify:  notify,
		status:  sm,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Stop cancels work started by handled events.
func (e *Engine) Stop() {
	e.cancel()
}

// Handle is the stream event handler. It runs on the reader goroutine of
// the connection the event came from.
func (e *Engine) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *stream.Event:
		if evt.Scope == stream.ScopeHome {
			e.handleHomeFrame(evt)
		} else {
			e.handleChatFrame(evt)
		}
	case *stream.Connected:
		e.handleConnected(evt)
	case *stream.Disconnected:
		if evt.Scope != stream.ScopeHome {
			return
		}
		if evt.WillRetry {
			e.setStatus(status.Reconnecting)
		} else {
			e.setStatus(status.Disconnected)
		}
	case *stream.Reconnecting:
		if evt.Scope == stream.ScopeHome {
			e.setStatus(status.Connecting)
		}
	}
}

func (e *Engine) handleHomeFrame(evt *stream.Event) {
	if evt.Type != stream.TypeNewMessage {
		return
	}
	msg := *evt.Message
	e.chats.ApplyIncomingMessage(e.ctx, evt.ChatID, msg, false)
	if e.notify != nil {
		e.notify.Dispatch(evt.ChatID, string(msg.Sender.ID), msg.Sender.FullName, msg.Content)
	}
}

func (e *Engine) handleChatFrame(evt *stream.Event) {
	if evt.ChatID != evt.Stream {
		e.logger.Debug("ignoring frame for another chat", zap.String("stream", evt.Stream), zap.String("chat_id", evt.ChatID))
		return
	}
	t, ok := e.threads.Get(evt.ChatID)
	if !ok {
		return
	}
	switch evt.Type {
	case stream.TypeNewMessage:
		if evt.Message.IsFromCurrentUser {
			return
		}
		t.ApplyInboundMessage(e.ctx, *evt.Message)
	case stream.TypeMarkAsRead:
		t.ApplyMarkAsRead(e.ctx, evt.MessageID)
	case stream.TypeMarkAllAsRead:
		t.ApplyMarkAllAsRead(e.ctx)
	}
}

func (e *Engine) handleConnected(evt *stream.Connected) {
	if evt.Scope == stream.ScopeHome {
		if e.status.Current() != status.Ready {
			e.setStatus(status.Connecting, status.Ready)
		}
		if evt.Redial {
			if _, err := e.chats.RefreshFromServer(e.ctx); err != nil {
				e.logger.Warn("chat refresh after reconnect failed", zap.Error(err))
			}
		}
		return
	}
	if !evt.Redial {
		return
	}
	if t, ok := e.threads.Get(evt.ChatID); ok {
		if err := t.LoadHistory(e.ctx); err != nil {
			e.logger.Warn("history reload after reconnect failed", zap.String("chat_id", evt.ChatID), zap.Error(err))
		}
	}
}

func (e *Engine) setStatus(steps ...status.State) {
	if e.status.Current() == status.AuthRequired {
		return
	}
	if err := e.status.Walk(steps...); err != nil {
		e.logger.Debug("status transition skipped", zap.Error(err))
	}
}
