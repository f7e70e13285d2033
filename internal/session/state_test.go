package session

import "testing"

func TestActiveChatMarker(t *testing.T) {
	s := NewState()
	if s.IsActive("") {
		t.Error("empty chat id must never be active")
	}

	s.SetActiveChat("1")
	s.SetActiveChat("2")
	if s.ClearActiveChat("1") {
		t.Error("closing chat 1 cleared the marker of chat 2")
	}
	if !s.IsActive("2") {
		t.Errorf("active = %q, want 2", s.ActiveChat())
	}
	if !s.ClearActiveChat("2") || s.ActiveChat() != "" {
		t.Errorf("active = %q after clear", s.ActiveChat())
	}
}

func TestReset(t *testing.T) {
	s := NewState()
	s.SetUserID("42")
	s.SetActiveChat("7")
	s.Reset()
	if s.UserID() != "" || s.ActiveChat() != "" {
		t.Errorf("after Reset user=%q active=%q", s.UserID(), s.ActiveChat())
	}
}
