package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/securetalk/internal/testbackend"
)

type tokenBox struct {
	mu  sync.Mutex
	tok string
}

func (b *tokenBox) Token(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tok, nil
}

func (b *tokenBox) set(tok string) {
	b.mu.Lock()
	b.tok = tok
	b.mu.Unlock()
}

func setup(t *testing.T) (*testbackend.Server, *Client, *tokenBox, int, int) {
	t.Helper()
	srv := testbackend.New(t)
	alice := srv.AddUser("Alice", "Liddell", "alice@example.com", "wonderland")
	bob := srv.AddUser("Bob", "Builder", "bob@example.com", "canwefixit")
	tokens := &tokenBox{}
	return srv, New(srv.APIURL(), tokens, WithTimeout(5*time.Second)), tokens, alice, bob
}

func TestLoginThenChats(t *testing.T) {
	srv, c, tokens, alice, bob := setup(t)
	ctx := context.Background()

	chat := srv.AddChat(bob, alice)
	srv.AddMessage(chat, bob, "hi alice", time.Now().Add(-time.Minute))

	tok, err := c.Login(ctx, "alice@example.com", "wonderland")
	if err != nil {
		t.Fatal(err)
	}
	tokens.set(tok)

	chats, err := c.Chats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	got := chats[0]
	if got.ChatName != "Bob Builder" || got.LastMessage != "hi alice" {
		t.Errorf("chat = %+v", got)
	}
	if len(got.Users) != 2 {
		t.Errorf("users = %v, want 2 ids", got.Users)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updatedAt not decoded")
	}

	me, err := c.UserDetails(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if me.FullName != "Alice Liddell" {
		t.Errorf("user details = %+v", me)
	}
}

func TestLoginRejected(t *testing.T) {
	_, c, _, _, _ := setup(t)
	_, err := c.Login(context.Background(), "alice@example.com", "wrong")
	if !IsKind(err, KindRejected) {
		t.Fatalf("error = %v, want rejected", err)
	}
	if !strings.Contains(err.Error(), "Invalid email or password") {
		t.Errorf("error %q should carry the server's message", err)
	}
}

func TestAuthMissingSendsNothing(t *testing.T) {
	srv, c, _, _, _ := setup(t)
	_, err := c.Chats(context.Background())
	if !IsKind(err, KindAuthMissing) {
		t.Fatalf("error = %v, want auth missing", err)
	}
	if n := len(srv.Requests()); n != 0 {
		t.Errorf("%d requests sent without a token", n)
	}
}

func TestRejectedTokenIsAuthMissing(t *testing.T) {
	_, c, tokens, _, _ := setup(t)
	tokens.set("not.a.token")
	if _, err := c.Contacts(context.Background()); !IsKind(err, KindAuthMissing) {
		t.Errorf("error = %v, want auth missing", err)
	}
}

func TestServerErrorIsTransport(t *testing.T) {
	srv, c, tokens, alice, _ := setup(t)
	tokens.set(srv.Token(alice))
	srv.Fail("/social/chats", http.StatusInternalServerError)

	_, err := c.Chats(context.Background())
	if !IsKind(err, KindTransport) {
		t.Errorf("error = %v, want transport", err)
	}
}

func TestUnreachableIsTransport(t *testing.T) {
	hs := httptest.NewServer(http.NotFoundHandler())
	url := hs.URL
	hs.Close()

	c := New(url, &tokenBox{tok: "x"}, WithTimeout(time.Second))
	if err := c.MarkChatRead(context.Background(), "1"); !IsKind(err, KindTransport) {
		t.Errorf("error = %v, want transport", err)
	}
}

func TestSendAndFetchMessages(t *testing.T) {
	srv, c, tokens, alice, bob := setup(t)
	ctx := context.Background()
	chat := srv.AddChat(bob, alice)
	srv.AddMessage(chat, bob, "ping", time.Now().Add(-time.Hour))
	tokens.set(srv.Token(alice))
	chatID := itoa(chat)

	sent, raw, err := c.SendMessage(ctx, chatID, "pong", itoa(alice))
	if err != nil {
		t.Fatal(err)
	}
	if sent.Ref.IsProvisional() || sent.Ref.ServerID == "" {
		t.Errorf("sent ref = %+v, want confirmed", sent.Ref)
	}
	if !sent.IsFromCurrentUser || sent.Content != "pong" {
		t.Errorf("sent = %+v", sent)
	}
	if !strings.Contains(string(raw), `"content":"pong"`) {
		t.Errorf("raw = %s", raw)
	}

	msgs, err := c.Messages(ctx, chatID, itoa(alice))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].IsFromCurrentUser || !msgs[1].IsFromCurrentUser {
		t.Errorf("fromMe = %v,%v; want false,true", msgs[0].IsFromCurrentUser, msgs[1].IsFromCurrentUser)
	}

	if err := c.MarkChatRead(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	if stored := srv.Messages(chat); !stored[0].IsRead || stored[1].IsRead {
		t.Errorf("server read flags = %v,%v; want true,false", stored[0].IsRead, stored[1].IsRead)
	}
}

func TestCreateChat(t *testing.T) {
	srv, c, tokens, alice, bob := setup(t)
	ctx := context.Background()
	tokens.set(srv.Token(alice))

	chat, isNew, err := c.CreateChat(ctx, itoa(bob))
	if err != nil {
		t.Fatal(err)
	}
	if !isNew || chat.ChatName != "Bob Builder" || chat.LastMessage != "" {
		t.Errorf("first create = %+v new=%v", chat, isNew)
	}
	again, isNew, err := c.CreateChat(ctx, itoa(bob))
	if err != nil {
		t.Fatal(err)
	}
	if isNew || again.ID != chat.ID {
		t.Errorf("second create = %s new=%v, want existing %s", again.ID, isNew, chat.ID)
	}

	if _, _, err := c.CreateChat(ctx, "999"); !IsKind(err, KindRejected) {
		t.Errorf("unknown contact error = %v, want rejected", err)
	}
}

func TestMalformedResponsesFailClosed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing chats", `{"items":[]}`},
		{"object last_message", `{"chats":[{"id":1,"users":[],"last_message":{"content":"hi"},"updatedAt":"2024-05-01T10:00:00Z"}]}`},
		{"missing id", `{"chats":[{"users":[],"last_message":"hi","updatedAt":"2024-05-01T10:00:00Z"}]}`},
		{"missing timestamps", `{"chats":[{"id":1,"users":[],"last_message":"hi"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer hs.Close()

			c := New(hs.URL, &tokenBox{tok: "x"})
			if _, err := c.Chats(context.Background()); !IsKind(err, KindMalformed) {
				t.Errorf("error = %v, want malformed", err)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"Chat not found"}`, "Chat not found"},
		{`{"message":"Validation errors","errors":{"email":"taken","password":["too short","no digits"]}}`,
			"Validation errors: email: taken; password: too short, no digits"},
		{`garbage`, "Bad Request"},
		{`{}`, "Bad Request"},
	}
	for _, tt := range tests {
		if got := describe(http.StatusBadRequest, []byte(tt.body)); got != tt.want {
			t.Errorf("describe(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
