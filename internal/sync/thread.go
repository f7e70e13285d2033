package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/securetalk/internal/bus"
	"github.com/matheus3301/securetalk/internal/cache"
	"github.com/matheus3301/securetalk/internal/model"
	"github.com/matheus3301/securetalk/internal/session"
	"github.com/matheus3301/securetalk/internal/stream"
	"go.uber.org/zap"
)

const markReadTimeout = 15 * time.Second

// ThreadAPI is the part of the REST client a thread uses.
type ThreadAPI interface {
	Messages(ctx context.Context, chatID, me string) ([]model.Message, error)
	SendMessage(ctx context.Context, chatID, content, me string) (model.Message, json.RawMessage, error)
	MarkChatRead(ctx context.Context, chatID string) error
}

// ChatSender writes frames on a chat's stream.
type ChatSender interface {
	SendChat(chatID string, out stream.Outbound) error
}

// Thread is the message history of one open chat. Every mutation happens
// under mu; network calls happen outside it and their results are dropped
// once the thread is closed.
type Thread struct {
	chatID  string
	api     ThreadAPI
	streams ChatSender
	cache   *cache.Cache
	chats   *ChatList
	state   *session.State
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	live     bool
	msgs     []model.Message
	lastTemp int64
}

func newThread(chatID string, r *Threads) *Thread {
	return &Thread{
		chatID:  chatID,
		api:     r.api,
		streams: r.streams,
		cache:   r.cache,
		chats:   r.chats,
		state:   r.state,
		bus:     r.bus,
		logger:  r.logger.With(zap.String("chat_id", chatID)),
		now:     r.now,
		live:    true,
	}
}

// ChatID returns the chat this thread belongs to.
func (t *Thread) ChatID() string { return t.chatID }

// Snapshot returns a copy of the messages in order.
func (t *Thread) Snapshot() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Message(nil), t.msgs...)
}

// Entries returns the thread grouped for display.
func (t *Thread) Entries() []model.Entry {
	return Group(t.Snapshot(), t.now(), time.Local)
}

// Close marks the thread dead. Results of calls still in flight are discarded.
func (t *Thread) Close() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
}

// prime loads the cached history. A send interrupted by a restart can never
// complete, so loading messages come back as failed.
func (t *Thread) prime(ctx context.Context) {
	cached, err := t.cache.LoadThread(ctx, t.chatID)
	if err != nil {
		t.logger.Warn("failed to load cached thread", zap.Error(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range cached {
		if m.Ref.IsProvisional() && m.Status == model.StatusLoading {
			if failed, err := m.Fail(); err == nil {
				cached[i] = failed
			}
		}
		if m.Ref.IsProvisional() && m.Ref.ClientID > t.lastTemp {
			t.lastTemp = m.Ref.ClientID
		}
	}
	t.msgs = cached
}

// LoadHistory replaces the thread with the server's history. Read flags
// already seen locally are kept and unconfirmed local messages stay at the
// end. When the server cannot be reached the cached history is used and the
// error is returned.
func (t *Thread) LoadHistory(ctx context.Context) error {
	fetched, err := t.api.Messages(ctx, t.chatID, t.state.UserID())

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return ErrThreadClosed
	}

	if err != nil {
		cached, cerr := t.cache.LoadThread(ctx, t.chatID)
		if cerr != nil {
			t.logger.Warn("failed to load cached thread", zap.Error(cerr))
		} else if len(t.msgs) == 0 {
			t.msgs = cached
			t.publishLocked(bus.KindThreadUpdated)
		}
		return fmt.Errorf("load history: %w", err)
	}

	t.msgs = mergeHistory(t.msgs, fetched)
	t.persistLocked(ctx)
	t.publishLocked(bus.KindThreadUpdated)
	return nil
}

func mergeHistory(current, fetched []model.Message) []model.Message {
	read := make(map[string]bool, len(current))
	var pending []model.Message
	for _, m := range current {
		if m.Ref.IsProvisional() {
			if m.Status == model.StatusLoading || m.Status == model.StatusError {
				pending = append(pending, m)
			}
			continue
		}
		if m.IsRead {
			read[m.Ref.ServerID] = true
		}
	}

	out := make([]model.Message, 0, len(fetched)+len(pending))
	seen := make(map[string]bool, len(fetched))
	for _, m := range fetched {
		if seen[m.Ref.ServerID] {
			continue
		}
		seen[m.Ref.ServerID] = true
		if read[m.Ref.ServerID] && !m.IsRead {
			m.MarkRead()
		}
		out = append(out, m)
	}
	return append(out, pending...)
}

// ComposeAndSend shows text as a pending message at once, then posts it.
// On success the pending message is replaced by the server's record; on
// failure it stays in the thread with status error and can be retried.
func (t *Thread) ComposeAndSend(ctx context.Context, text string) (model.Message, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return model.Message{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > model.MaxContentLength {
		return model.Message{}, ErrMessageTooLong
	}

	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return model.Message{}, ErrThreadClosed
	}
	now := t.now()
	pending := model.Message{
		Ref:               model.ProvisionalRef(t.nextTempIDLocked(now)),
		Sender:            model.Sender{ID: model.ID(t.state.UserID())},
		Content:           content,
		CreatedAt:         now,
		IsFromCurrentUser: true,
		Status:            model.StatusLoading,
	}
	t.msgs = append(t.msgs, pending)
	t.publishLocked(bus.KindThreadUpdated)
	t.mu.Unlock()

	return t.deliver(ctx, pending)
}

// Retry sends a failed message again.
func (t *Thread) Retry(ctx context.Context, clientID int64) (model.Message, error) {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return model.Message{}, ErrThreadClosed
	}
	idx := t.indexLocked(model.ProvisionalRef(clientID))
	if idx < 0 {
		t.mu.Unlock()
		return model.Message{}, fmt.Errorf("%w: no pending message %d", ErrNotRetryable, clientID)
	}
	m, err := t.msgs[idx].Retry()
	if err != nil {
		t.mu.Unlock()
		return model.Message{}, fmt.Errorf("%w: %v", ErrNotRetryable, err)
	}
	t.msgs[idx] = m
	t.publishLocked(bus.KindThreadUpdated)
	t.mu.Unlock()

	return t.deliver(ctx, m)
}

func (t *Thread) nextTempIDLocked(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= t.lastTemp {
		id = t.lastTemp + 1
	}
	t.lastTemp = id
	return id
}

func (t *Thread) deliver(ctx context.Context, pending model.Message) (model.Message, error) {
	server, raw, err := t.api.SendMessage(ctx, t.chatID, pending.Content, t.state.UserID())

	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return model.Message{}, ErrThreadClosed
	}
	idx := t.indexLocked(pending.Ref)
	if idx < 0 {
		t.mu.Unlock()
		return model.Message{}, fmt.Errorf("pending message %s vanished", pending.Ref)
	}

	if err != nil {
		failed := t.msgs[idx]
		if f, ferr := failed.Fail(); ferr == nil {
			failed = f
			t.msgs[idx] = f
		}
		t.persistLocked(ctx)
		t.publishLocked(bus.KindMessageFailed)
		t.mu.Unlock()
		t.logger.Warn("send failed", zap.Int64("client_id", pending.Ref.ClientID), zap.Error(err))
		return failed, fmt.Errorf("send message: %w", err)
	}

	confirmed, cerr := t.msgs[idx].Confirm(server)
	if cerr != nil {
		t.mu.Unlock()
		return model.Message{}, cerr
	}
	if dup := t.indexLocked(confirmed.Ref); dup >= 0 {
		// The server record arrived first, e.g. through a history reload.
		if t.msgs[dup].IsRead {
			confirmed.MarkRead()
		}
		t.msgs[dup] = confirmed
		t.msgs = append(t.msgs[:idx], t.msgs[idx+1:]...)
	} else {
		t.msgs[idx] = confirmed
	}
	t.persistLocked(ctx)
	t.publishLocked(bus.KindMessageSent)
	t.mu.Unlock()

	if err := t.streams.SendChat(t.chatID, stream.NewMessage(t.chatID, raw)); err != nil {
		t.logger.Warn("failed to relay sent message", zap.Error(err))
	}
	t.chats.ApplyIncomingMessage(ctx, t.chatID, confirmed, true)
	t.logger.Info("message sent", zap.Int64("client_id", pending.Ref.ClientID), zap.String("msg_id", confirmed.Ref.ServerID))
	return confirmed, nil
}

// ApplyInboundMessage adds a message from the other participant. The chat
// is on screen, so the message is marked read on the server and the sender
// is told so over the stream.
func (t *Thread) ApplyInboundMessage(ctx context.Context, msg model.Message) {
	msg.IsFromCurrentUser = false
	msg.MarkRead()

	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	if idx := t.indexLocked(msg.Ref); idx >= 0 {
		t.msgs[idx] = msg
	} else {
		t.msgs = append(t.msgs, msg)
	}
	t.persistLocked(ctx)
	t.publishLocked(bus.KindThreadUpdated)
	t.mu.Unlock()

	t.chats.ApplyIncomingMessage(ctx, t.chatID, msg, true)

	t.markReadOnServer()
	if err := t.streams.SendChat(t.chatID, stream.MarkAsRead(t.chatID, msg.Ref.ServerID)); err != nil {
		t.logger.Warn("failed to send read receipt", zap.String("msg_id", msg.Ref.ServerID), zap.Error(err))
	}
}

// markReadOnServer flips the chat's read flags on the server in the
// background. The stream frames only reach other clients.
func (t *Thread) markReadOnServer() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
		defer cancel()
		if err := t.api.MarkChatRead(ctx, t.chatID); err != nil {
			t.logger.Warn("failed to mark chat read", zap.Error(err))
		}
	}()
}

// ApplyMarkAsRead flags one message as read by the other participant.
func (t *Thread) ApplyMarkAsRead(ctx context.Context, messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return
	}
	idx := t.indexLocked(model.ConfirmedRef(messageID))
	if idx < 0 {
		return
	}
	t.msgs[idx].MarkRead()
	t.persistLocked(ctx)
	t.publishLocked(bus.KindThreadUpdated)
}

// ApplyMarkAllAsRead flags every confirmed message of the current user as
// read. The other participant's messages are left alone.
func (t *Thread) ApplyMarkAllAsRead(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return
	}
	changed := false
	for i := range t.msgs {
		m := &t.msgs[i]
		if !m.IsFromCurrentUser || m.Ref.IsProvisional() {
			continue
		}
		if !m.IsRead || m.Status != model.StatusRead {
			m.MarkRead()
			changed = true
		}
	}
	if !changed {
		return
	}
	t.persistLocked(ctx)
	t.publishLocked(bus.KindThreadUpdated)
}

func (t *Thread) indexLocked(ref model.Ref) int {
	for i := range t.msgs {
		if t.msgs[i].Ref == ref {
			return i
		}
	}
	return -1
}

func (t *Thread) persistLocked(ctx context.Context) {
	if err := t.cache.SaveThread(ctx, t.chatID, t.msgs); err != nil {
		t.logger.Warn("failed to persist thread", zap.Error(err))
	}
}

func (t *Thread) publishLocked(kind string) {
	t.bus.Emit(kind, map[string]any{"chat_id": t.chatID, "messages": len(t.msgs)})
}
