package sync

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/securetalk/internal/bus"
	"github.com/matheus3301/securetalk/internal/cache"
	"github.com/matheus3301/securetalk/internal/logging"
	"github.com/matheus3301/securetalk/internal/session"
	"github.com/matheus3301/securetalk/internal/stream"
	"go.uber.org/zap"
)

// ChatStreams opens and closes chat-scoped connections.
type ChatStreams interface {
	ChatSender
	OpenChat(chatID string) error
	CloseChat(chatID string)
}

// Threads tracks the open chat threads.
type Threads struct {
	api     ThreadAPI
	streams ChatStreams
	cache   *cache.Cache
	chats   *ChatList
	state   *session.State
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	open map[string]*Thread
}

// NewThreads creates an empty registry.
func NewThreads(api ThreadAPI, streams ChatStreams, c *cache.Cache, chats *ChatList, state *session.State, b *bus.Bus, logger *zap.Logger) *Threads {
	logger = logging.OrNop(logger)
	return &Threads{
		api:     api,
		streams: streams,
		cache:   c,
		chats:   chats,
		state:   state,
		bus:     b,
		logger:  logger,
		now:     time.Now,
		open:    make(map[string]*Thread),
	}
}

// Open shows a chat: it becomes the active chat, its cached history is
// loaded, its stream is connected, the server is told the chat was read and
// its history is fetched. A failed fetch leaves the cached history in place
// and is only logged.
func (r *Threads) Open(ctx context.Context, chatID string) *Thread {
	r.mu.Lock()
	if t, ok := r.open[chatID]; ok {
		r.mu.Unlock()
		r.state.SetActiveChat(chatID)
		return t
	}
	// Primed before it is reachable through Get, so no send can land in a
	// thread whose history is about to be replaced.
	t := newThread(chatID, r)
	t.prime(ctx)
	r.open[chatID] = t
	r.mu.Unlock()

	r.state.SetActiveChat(chatID)
	if err := r.streams.OpenChat(chatID); err != nil {
		r.logger.Warn("failed to open chat stream", zap.String("chat_id", chatID), zap.Error(err))
	}
	t.markReadOnServer()
	if err := t.LoadHistory(ctx); err != nil {
		r.logger.Warn("history unavailable, showing cached thread", zap.String("chat_id", chatID), zap.Error(err))
	}
	r.logger.Info("chat opened", zap.String("chat_id", chatID))
	return t
}

// Get returns the open thread of chatID.
func (r *Threads) Get(chatID string) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.open[chatID]
	return t, ok
}

// Close hides a chat. It reports whether the chat was open.
func (r *Threads) Close(chatID string) bool {
	r.mu.Lock()
	t, ok := r.open[chatID]
	delete(r.open, chatID)
	r.mu.Unlock()
	if !ok {
		return false
	}

	t.Close()
	r.state.ClearActiveChat(chatID)
	r.streams.CloseChat(chatID)
	r.bus.Emit(bus.KindThreadClosed, map[string]any{"chat_id": chatID})
	r.logger.Info("chat closed", zap.String("chat_id", chatID))
	return true
}

// CloseAll closes every open thread.
func (r *Threads) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.open))
	for id := range r.open {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
}

var _ ChatStreams = (*stream.Manager)(nil)
