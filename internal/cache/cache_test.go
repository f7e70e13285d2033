package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/securetalk/internal/model"
	"github.com/matheus3301/securetalk/internal/store"
)

func testCache(t *testing.T) (*Cache, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "talk.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), db
}

func TestChatListRoundTrip(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	want := []model.ChatSummary{
		{ID: "7", ChatName: "Grace", ContactImage: "https://img/7.png", LastMessage: "see you",
			UpdatedAt: time.Date(2024, 5, 2, 9, 30, 0, 500, time.UTC), UnreadCount: 2, Users: []string{"1", "7"}},
		{ID: "3", ChatName: "New Chat", UpdatedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), Users: []string{"1"}},
	}
	if err := c.SaveChats(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := c.LoadChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d chats, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.ChatName != w.ChatName || g.ContactImage != w.ContactImage ||
			g.LastMessage != w.LastMessage || g.UnreadCount != w.UnreadCount ||
			!g.UpdatedAt.Equal(w.UpdatedAt) || len(g.Users) != len(w.Users) {
			t.Errorf("chat %d = %+v, want %+v", i, g, w)
		}
	}
}

func TestLoadChatsMissingIsEmpty(t *testing.T) {
	c, _ := testCache(t)
	chats, err := c.LoadChats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 0 {
		t.Errorf("got %d chats, want 0", len(chats))
	}
}

func TestCorruptValue(t *testing.T) {
	c, db := testCache(t)
	ctx := context.Background()
	if err := db.Set(ctx, KeyChats, "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.LoadChats(ctx); !errors.Is(err, ErrCorrupt) {
		t.Errorf("LoadChats() error = %v, want ErrCorrupt", err)
	}
}

func TestThreadKeysAreIsolated(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	a := []model.Message{{Ref: model.ConfirmedRef("1"), Content: "a", CreatedAt: time.Now()}}
	if err := c.SaveThread(ctx, "10", a); err != nil {
		t.Fatal(err)
	}
	got, err := c.LoadThread(ctx, "11")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("chat 11 has %d messages, want 0", len(got))
	}
	got, _ = c.LoadThread(ctx, "10")
	if len(got) != 1 || got[0].Content != "a" {
		t.Errorf("chat 10 = %+v", got)
	}
}

func TestClearSessionKeepsThreads(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	_ = c.SetToken(ctx, "tok")
	_ = c.SaveChats(ctx, []model.ChatSummary{{ID: "1"}})
	_ = c.SaveThread(ctx, "1", []model.Message{{Ref: model.ConfirmedRef("5")}})
	_ = c.SetProfilePicture(ctx, "9", "https://img/9.png")

	if err := c.ClearSession(ctx); err != nil {
		t.Fatal(err)
	}
	if tok, _ := c.Token(ctx); tok != "" {
		t.Errorf("token = %q after clear", tok)
	}
	if chats, _ := c.LoadChats(ctx); len(chats) != 0 {
		t.Errorf("chats = %d after clear", len(chats))
	}
	if msgs, _ := c.LoadThread(ctx, "1"); len(msgs) != 1 {
		t.Errorf("thread = %d after clear, want 1", len(msgs))
	}
	if url, _ := c.ProfilePicture(ctx, "9"); url != "https://img/9.png" {
		t.Errorf("profile picture = %q", url)
	}
}
