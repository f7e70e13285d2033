package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/securetalk/internal/bus"
	"github.com/matheus3301/securetalk/internal/session"
	"go.uber.org/zap"
)

type chanNotifier chan Notification

func (c chanNotifier) Notify(_ context.Context, n Notification) error {
	c <- n
	return nil
}

func TestDispatchSuppression(t *testing.T) {
	state := session.NewState()
	state.SetUserID("1")
	state.SetActiveChat("7")

	tests := []struct {
		name   string
		chatID string
		sender string
		want   bool
	}{
		{"active chat", "7", "2", false},
		{"inactive chat", "8", "2", true},
		{"own message", "8", "1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(chanNotifier, 1)
			d := NewDispatcher(got, state, nil)
			if ok := d.Dispatch(tt.chatID, tt.sender, "Bob", "hi"); ok != tt.want {
				t.Fatalf("Dispatch = %v, want %v", ok, tt.want)
			}
			if !tt.want {
				return
			}
			select {
			case n := <-got:
				if n.ChatID != tt.chatID || n.Title != "Bob" || n.Body != "hi" {
					t.Errorf("notification = %+v", n)
				}
			case <-time.After(time.Second):
				t.Fatal("notifier not called")
			}
		})
	}
}

func TestBusNotifierPublishes(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("notify.", 1)
	defer unsub()

	if err := NewBusNotifier(b).Notify(context.Background(), Notification{ChatID: "3", Title: "Carol", Body: "psst"}); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		n, ok := evt.Payload.(Notification)
		if evt.Kind != bus.KindNotify || !ok || n.Body != "psst" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

type failing struct{}

func (failing) Notify(context.Context, Notification) error { return errors.New("no display") }

func TestMultiReturnsFirstError(t *testing.T) {
	got := make(chanNotifier, 1)
	m := Multi{failing{}, got, NewLogNotifier(zap.NewNop())}
	if err := m.Notify(context.Background(), Notification{ChatID: "1"}); err == nil {
		t.Error("expected error")
	}
	if len(got) != 1 {
		t.Error("later notifiers must still run")
	}
}
