package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/securetalk/internal/model"
	"github.com/matheus3301/securetalk/internal/stream"
)

func TestOpenSetsActiveAndLoadsHistory(t *testing.T) {
	f := newFixture(t)
	f.api.history = []model.Message{confirmed("10", "2", false, "hello", time.Now())}

	th := f.threads.Open(context.Background(), "7")
	if got := f.state.ActiveChat(); got != "7" {
		t.Errorf("active chat = %q, want 7", got)
	}
	if len(f.streams.opened) != 1 || f.streams.opened[0] != "7" {
		t.Errorf("opened streams = %v", f.streams.opened)
	}
	if msgs := th.Snapshot(); len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("thread = %+v", msgs)
	}

	if !f.threads.Close("7") {
		t.Fatal("close reported chat not open")
	}
	if f.state.ActiveChat() != "" {
		t.Error("active chat not cleared")
	}
	if len(f.streams.closed) != 1 {
		t.Errorf("closed streams = %v", f.streams.closed)
	}
	if f.threads.Close("7") {
		t.Error("second close should report false")
	}
}

func TestOpenMarksChatReadOnServer(t *testing.T) {
	f := newFixture(t)
	f.api.history = []model.Message{confirmed("10", "2", false, "unread from bob", time.Now())}

	f.threads.Open(context.Background(), "9")
	waitFor(t, "REST mark as read", func() bool { return f.api.reads() >= 1 })

	// Reopening an already open chat does not repeat the call.
	f.threads.Open(context.Background(), "9")
	time.Sleep(50 * time.Millisecond)
	if n := f.api.reads(); n != 1 {
		t.Errorf("mark as read calls = %d, want 1", n)
	}
}

func TestSendDuringOpenIsKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := []model.Message{confirmed("10", "2", false, "old", time.Now().Add(-time.Hour))}
	if err := f.cache.SaveThread(ctx, "7", old); err != nil {
		t.Fatal(err)
	}
	f.api.history = old
	f.api.sendGate = make(chan struct{})

	opened := make(chan struct{})
	go func() {
		defer close(opened)
		f.threads.Open(ctx, "7")
	}()

	var th *Thread
	waitFor(t, "thread registered", func() bool {
		var ok bool
		th, ok = f.threads.Get("7")
		return ok
	})
	sent := make(chan error, 1)
	go func() {
		_, err := th.ComposeAndSend(ctx, "while opening")
		sent <- err
	}()
	waitFor(t, "pending message", func() bool {
		for _, m := range th.Snapshot() {
			if m.Content == "while opening" {
				return true
			}
		}
		return false
	})
	<-opened

	var pending, cached bool
	for _, m := range th.Snapshot() {
		switch m.Content {
		case "while opening":
			pending = m.Status == model.StatusLoading
		case "old":
			cached = true
		}
	}
	if !pending || !cached {
		t.Errorf("thread = %+v, want history and the pending send", th.Snapshot())
	}

	close(f.api.sendGate)
	if err := <-sent; err != nil {
		t.Fatal(err)
	}
}

func TestCloseDoesNotClearNewerActiveChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.threads.Open(ctx, "1")
	f.threads.Open(ctx, "2")
	f.threads.Close("1")
	if got := f.state.ActiveChat(); got != "2" {
		t.Errorf("active chat = %q, want 2", got)
	}
}

func TestConfirmedSendLeavesOneMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	th := f.threads.Open(ctx, "7")

	got, err := th.ComposeAndSend(ctx, "  hi bob  ")
	if err != nil {
		t.Fatal(err)
	}
	if got.Ref.IsProvisional() || got.Status != model.StatusSent || got.Content != "hi bob" {
		t.Errorf("returned = %+v", got)
	}

	msgs := th.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Ref != got.Ref || !msgs[0].IsFromCurrentUser {
		t.Errorf("message = %+v", msgs[0])
	}

	persisted, err := f.cache.LoadThread(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 || persisted[0].Ref != got.Ref {
		t.Errorf("persisted = %+v", persisted)
	}

	if types := f.streams.sentTypes(); len(types) != 1 || types[0] != stream.TypeNewMessage {
		t.Errorf("stream frames = %v, want one new_message", types)
	}
	chats := f.chats.Snapshot()
	if len(chats) != 1 || chats[0].ID != "7" || chats[0].LastMessage != "hi bob" {
		t.Errorf("chat list = %+v", chats)
	}
}

func TestFailedSendKeepsContentAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	th := f.threads.Open(ctx, "7")

	f.api.sendErr = errors.New("boom")
	failed, err := th.ComposeAndSend(ctx, "try me")
	if err == nil {
		t.Fatal("expected error")
	}
	msgs := th.Snapshot()
	if len(msgs) != 1 || msgs[0].Status != model.StatusError || msgs[0].Content != "try me" || !msgs[0].Ref.IsProvisional() {
		t.Fatalf("thread after failure = %+v", msgs)
	}
	persisted, _ := f.cache.LoadThread(ctx, "7")
	if len(persisted) != 1 || persisted[0].Status != model.StatusError {
		t.Errorf("persisted = %+v", persisted)
	}
	if len(f.streams.sentTypes()) != 0 {
		t.Error("failed send must not be relayed")
	}

	f.api.sendErr = nil
	sent, err := th.Retry(ctx, failed.Ref.ClientID)
	if err != nil {
		t.Fatal(err)
	}
	msgs = th.Snapshot()
	if len(msgs) != 1 || msgs[0].Ref != sent.Ref || msgs[0].Status != model.StatusSent {
		t.Errorf("thread after retry = %+v", msgs)
	}

	if _, err := th.Retry(ctx, failed.Ref.ClientID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("retrying a sent message: err = %v, want ErrNotRetryable", err)
	}
}

func TestComposeValidation(t *testing.T) {
	f := newFixture(t)
	th := f.threads.Open(context.Background(), "7")

	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", ErrEmptyMessage},
		{"whitespace", " \n\t ", ErrEmptyMessage},
		{"too long", strings.Repeat("é", model.MaxContentLength+1), ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := th.ComposeAndSend(context.Background(), tt.text); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := th.ComposeAndSend(context.Background(), strings.Repeat("a", model.MaxContentLength)); err != nil {
		t.Errorf("max length message rejected: %v", err)
	}
	if n := len(th.Snapshot()); n != 1 {
		t.Errorf("got %d messages, want 1", n)
	}
}

func TestSendResultDiscardedAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	th := f.threads.Open(ctx, "7")
	f.api.sendGate = make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		_, err := th.ComposeAndSend(ctx, "late")
		errc <- err
	}()
	waitFor(t, "pending message", func() bool { return len(th.Snapshot()) == 1 })

	f.threads.Close("7")
	close(f.api.sendGate)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrThreadClosed) {
			t.Errorf("err = %v, want ErrThreadClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("send did not return")
	}
	if len(f.streams.sentTypes()) != 0 {
		t.Error("closed thread relayed a message")
	}
}

func TestInboundMessageIsReadAndAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	th := f.threads.Open(ctx, "7")
	waitFor(t, "REST mark as read on open", func() bool { return f.api.reads() >= 1 })
	opened := f.api.reads()

	in := confirmed("55", "2", true, "from bob", time.Now())
	th.ApplyInboundMessage(ctx, in)
	th.ApplyInboundMessage(ctx, in)

	msgs := th.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].IsFromCurrentUser || !msgs[0].IsRead {
		t.Errorf("message = %+v, want read and not own", msgs[0])
	}
	waitFor(t, "REST mark as read", func() bool { return f.api.reads() > opened })

	f.streams.mu.Lock()
	last := f.streams.frames[len(f.streams.frames)-1]
	f.streams.mu.Unlock()
	if last.Type != stream.TypeMarkAsRead || last.MessageID != int64(55) || last.ChatID != int64(7) {
		t.Errorf("receipt frame = %+v", last)
	}
}

func TestMarkAllAsReadFlipsOnlyOwnMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.api.history = []model.Message{
		confirmed("1", "1", true, "mine", now),
		confirmed("2", "2", false, "theirs", now),
		confirmed("3", "1", true, "mine too", now),
	}
	th := f.threads.Open(ctx, "7")
	f.api.sendErr = errors.New("offline")
	if _, err := th.ComposeAndSend(ctx, "pending"); err == nil {
		t.Fatal("expected send error")
	}

	th.ApplyMarkAllAsRead(ctx)

	for _, m := range th.Snapshot() {
		switch {
		case m.Ref.IsProvisional():
			if m.IsRead || m.Status != model.StatusError {
				t.Errorf("unsent message changed: %+v", m)
			}
		case m.IsFromCurrentUser:
			if !m.IsRead || m.Status != model.StatusRead {
				t.Errorf("own message %s not read", m.Ref)
			}
		default:
			if m.IsRead {
				t.Errorf("other's message %s flipped", m.Ref)
			}
		}
	}
}

func TestMarkAsReadSingleMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.history = []model.Message{
		confirmed("1", "1", true, "a", time.Now()),
		confirmed("2", "1", true, "b", time.Now()),
	}
	th := f.threads.Open(ctx, "7")
	th.ApplyMarkAsRead(ctx, "2")
	th.ApplyMarkAsRead(ctx, "404")

	msgs := th.Snapshot()
	if msgs[0].IsRead || !msgs[1].IsRead || msgs[1].Status != model.StatusRead {
		t.Errorf("thread = %+v", msgs)
	}
}

func TestLoadHistoryMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.api.history = []model.Message{confirmed("1", "1", true, "a", now)}
	th := f.threads.Open(ctx, "7")
	th.ApplyMarkAsRead(ctx, "1")

	f.api.sendErr = errors.New("offline")
	if _, err := th.ComposeAndSend(ctx, "unsent"); err == nil {
		t.Fatal("expected send error")
	}

	f.api.history = []model.Message{
		confirmed("1", "1", true, "a", now),
		confirmed("2", "2", false, "b", now.Add(time.Second)),
	}
	if err := th.LoadHistory(ctx); err != nil {
		t.Fatal(err)
	}
	msgs := th.Snapshot()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(msgs), msgs)
	}
	if !msgs[0].IsRead {
		t.Error("read flag lost on reload")
	}
	if !msgs[2].Ref.IsProvisional() || msgs[2].Content != "unsent" {
		t.Errorf("pending message not kept at the end: %+v", msgs[2])
	}
}

func TestLoadHistoryFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cached := []model.Message{confirmed("1", "2", false, "cached", time.Now())}
	if err := f.cache.SaveThread(ctx, "7", cached); err != nil {
		t.Fatal(err)
	}
	f.api.historyErr = errors.New("offline")

	th := f.threads.Open(ctx, "7")
	if msgs := th.Snapshot(); len(msgs) != 1 || msgs[0].Content != "cached" {
		t.Errorf("thread = %+v", msgs)
	}
}

func TestInterruptedSendComesBackFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stuck := model.Message{Ref: model.ProvisionalRef(1714550400000), Content: "stuck", Status: model.StatusLoading,
		IsFromCurrentUser: true, CreatedAt: time.Now()}
	if err := f.cache.SaveThread(ctx, "7", []model.Message{stuck}); err != nil {
		t.Fatal(err)
	}
	f.api.historyErr = errors.New("offline")

	th := f.threads.Open(ctx, "7")
	msgs := th.Snapshot()
	if len(msgs) != 1 || msgs[0].Status != model.StatusError {
		t.Fatalf("thread = %+v", msgs)
	}
	if _, err := th.Retry(ctx, stuck.Ref.ClientID); err != nil {
		t.Errorf("retry: %v", err)
	}
}
