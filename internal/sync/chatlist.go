package sync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/securetalk/internal/bus"
	"github.com/matheus3301/securetalk/internal/cache"
	"github.com/matheus3301/securetalk/internal/logging"
	"github.com/matheus3301/securetalk/internal/model"
	"github.com/matheus3301/securetalk/internal/session"
	"go.uber.org/zap"
)

const placeholderChatName = "New Chat"

// ChatSource fetches the authoritative chat list.
type ChatSource interface {
	Chats(ctx context.Context) ([]model.ChatSummary, error)
}

// ChatList keeps the cached chat list in step with the server and the
// event stream. The list is always sorted by UpdatedAt, newest first.
type ChatList struct {
	api    ChatSource
	cache  *cache.Cache
	state  *session.State
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	chats []model.ChatSummary
}

// NewChatList creates an empty chat list. Call Load to prime it from the cache.
func NewChatList(api ChatSource, c *cache.Cache, state *session.State, b *bus.Bus, logger *zap.Logger) *ChatList {
	logger = logging.OrNop(logger)
	return &ChatList{
		api:    api,
		cache:  c,
		state:  state,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
}

// Load primes the in-memory list from the cache and returns its length.
func (l *ChatList) Load(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cached, err := l.cache.LoadChats(ctx)
	if err != nil {
		l.logger.Warn("failed to load cached chats", zap.Error(err))
		return len(l.chats)
	}
	l.chats = normalize(cached)
	return len(l.chats)
}

// Snapshot returns a copy of the current list.
func (l *ChatList) Snapshot() []model.ChatSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneChats(l.chats)
}

// Search returns the chats whose name or last message contains query,
// ignoring case. An empty query matches everything.
func (l *ChatList) Search(query string) []model.ChatSummary {
	q := strings.ToLower(strings.TrimSpace(query))
	all := l.Snapshot()
	if q == "" {
		return all
	}
	out := all[:0]
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.ChatName), q) || strings.Contains(strings.ToLower(c.LastMessage), q) {
			out = append(out, c)
		}
	}
	return out
}

// Clear forgets the in-memory list. The cache is cleared separately on sign-out.
func (l *ChatList) Clear() {
	l.mu.Lock()
	l.chats = nil
	l.mu.Unlock()
	l.bus.Emit(bus.KindChatsUpdated, map[string]any{"chats": 0})
}

// ApplyIncomingMessage records msg as the latest message of chatID. A chat
// not in the list yet gets a placeholder until the next refresh. seen resets
// the unread count; otherwise it is left to the server's next snapshot.
func (l *ChatList) ApplyIncomingMessage(ctx context.Context, chatID string, msg model.Message, seen bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chats := l.readBase(ctx)
	idx := -1
	for i := range chats {
		if chats[i].ID == chatID {
			idx = i
			break
		}
	}
	if idx < 0 {
		placeholder := model.ChatSummary{ID: chatID, ChatName: placeholderChatName, Users: []string{}}
		if me := l.state.UserID(); me != "" {
			placeholder.Users = []string{me}
		}
		chats = append(chats, placeholder)
		idx = len(chats) - 1
	}

	c := &chats[idx]
	c.LastMessage = msg.Content
	c.UpdatedAt = l.advance(c.UpdatedAt)
	if seen {
		c.UnreadCount = 0
	}
	l.commit(ctx, chats)
}

// RefreshFromServer replaces the list with the server's. On failure the
// list is left as it was.
func (l *ChatList) RefreshFromServer(ctx context.Context) ([]model.ChatSummary, error) {
	fetched, err := l.api.Chats(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commit(ctx, fetched)
	l.logger.Debug("chat list refreshed", zap.Int("chats", len(l.chats)))
	return cloneChats(l.chats), nil
}

// readBase re-reads the persisted list, falling back to memory when the
// cache cannot be read. Callers hold l.mu.
func (l *ChatList) readBase(ctx context.Context) []model.ChatSummary {
	cached, err := l.cache.LoadChats(ctx)
	if err != nil {
		l.logger.Warn("failed to read cached chats, using memory", zap.Error(err))
		return cloneChats(l.chats)
	}
	return cached
}

// advance returns now, or prev plus a millisecond when the clock has not
// moved past prev, so an update always sorts first.
func (l *ChatList) advance(prev time.Time) time.Time {
	now := l.now()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

// commit sorts, stores and announces chats. Callers hold l.mu.
func (l *ChatList) commit(ctx context.Context, chats []model.ChatSummary) {
	l.chats = normalize(chats)
	if err := l.cache.SaveChats(ctx, l.chats); err != nil {
		l.logger.Warn("failed to persist chats", zap.Error(err))
	}
	l.bus.Emit(bus.KindChatsUpdated, map[string]any{"chats": len(l.chats)})
}

// normalize drops duplicate ids, keeping the most recent entry, and sorts
// newest first with the id as tie-break.
func normalize(chats []model.ChatSummary) []model.ChatSummary {
	byID := make(map[string]int, len(chats))
	out := make([]model.ChatSummary, 0, len(chats))
	for _, c := range chats {
		if i, ok := byID[c.ID]; ok {
			if c.UpdatedAt.After(out[i].UpdatedAt) {
				out[i] = c
			}
			continue
		}
		byID[c.ID] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func cloneChats(chats []model.ChatSummary) []model.ChatSummary {
	out := make([]model.ChatSummary, len(chats))
	for i, c := range chats {
		c.Users = append([]string(nil), c.Users...)
		out[i] = c
	}
	return out
}
