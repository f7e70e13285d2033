package sync

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/securetalk/internal/bus"
	"github.com/matheus3301/securetalk/internal/cache"
	"github.com/matheus3301/securetalk/internal/model"
	"github.com/matheus3301/securetalk/internal/session"
	"github.com/matheus3301/securetalk/internal/store"
	"github.com/matheus3301/securetalk/internal/stream"
)

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "talk.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return cache.New(db)
}

// fakeAPI stands in for the REST client.
type fakeAPI struct {
	mu         sync.Mutex
	chats      []model.ChatSummary
	chatsErr   error
	history    []model.Message
	historyErr error
	sendErr    error
	sendGate   chan struct{}
	nextID     int
	sent       []string
	markReads  int
}

func (f *fakeAPI) Chats(context.Context) ([]model.ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatsErr != nil {
		return nil, f.chatsErr
	}
	return append([]model.ChatSummary(nil), f.chats...), nil
}

func (f *fakeAPI) Messages(context.Context, string, string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]model.Message(nil), f.history...), nil
}

func (f *fakeAPI) SendMessage(_ context.Context, _ string, content, me string) (model.Message, json.RawMessage, error) {
	if f.sendGate != nil {
		<-f.sendGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	if f.sendErr != nil {
		return model.Message{}, nil, f.sendErr
	}
	f.nextID++
	m := model.Message{
		Ref:               model.ConfirmedRef(strconv.Itoa(100 + f.nextID)),
		Sender:            model.Sender{ID: model.ID(me), FullName: "Me"},
		Content:           content,
		CreatedAt:         time.Now(),
		IsFromCurrentUser: true,
		Status:            model.StatusSent,
	}
	raw, err := json.Marshal(m)
	return m, raw, err
}

func (f *fakeAPI) MarkChatRead(context.Context, string) error {
	f.mu.Lock()
	f.markReads++
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markReads
}

// fakeStreams records chat stream traffic.
type fakeStreams struct {
	mu     sync.Mutex
	opened []string
	closed []string
	frames []stream.Outbound
}

func (f *fakeStreams) OpenChat(chatID string) error {
	f.mu.Lock()
	f.opened = append(f.opened, chatID)
	f.mu.Unlock()
	return nil
}

func (f *fakeStreams) CloseChat(chatID string) {
	f.mu.Lock()
	f.closed = append(f.closed, chatID)
	f.mu.Unlock()
}

func (f *fakeStreams) SendChat(_ string, out stream.Outbound) error {
	f.mu.Lock()
	f.frames = append(f.frames, out)
	f.mu.Unlock()
	return nil
}

func (f *fakeStreams) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, fr := range f.frames {
		out = append(out, fr.Type)
	}
	return out
}

type fixture struct {
	api     *fakeAPI
	streams *fakeStreams
	cache   *cache.Cache
	state   *session.State
	bus     *bus.Bus
	chats   *ChatList
	threads *Threads
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:     &fakeAPI{},
		streams: &fakeStreams{},
		cache:   testCache(t),
		state:   session.NewState(),
		bus:     bus.New(),
	}
	f.state.SetUserID("1")
	f.chats = NewChatList(f.api, f.cache, f.state, f.bus, nil)
	f.threads = NewThreads(f.api, f.streams, f.cache, f.chats, f.state, f.bus, nil)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func confirmed(id, sender string, fromMe bool, content string, at time.Time) model.Message {
	return model.Message{
		Ref:               model.ConfirmedRef(id),
		Sender:            model.Sender{ID: model.ID(sender)},
		Content:           content,
		CreatedAt:         at,
		IsFromCurrentUser: fromMe,
		Status:            model.StatusSent,
	}
}
