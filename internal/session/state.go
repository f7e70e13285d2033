package session

import "sync"

// State is the mutable state shared by everything running in one session:
// who is signed in and which chat is on screen.
type State struct {
	mu         sync.RWMutex
	userID     string
	activeChat string
}

// NewState returns an empty, signed-out state.
func NewState() *State {
	return &State{}
}

// UserID returns the current user's id, or "" when signed out.
func (s *State) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SetUserID records the signed-in user.
func (s *State) SetUserID(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

// ActiveChat returns the chat currently on screen, or "".
func (s *State) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChat
}

// IsActive reports whether chatID is the chat on screen.
func (s *State) IsActive(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chatID != "" && s.activeChat == chatID
}

// SetActiveChat marks chatID as the chat on screen.
func (s *State) SetActiveChat(chatID string) {
	s.mu.Lock()
	s.activeChat = chatID
	s.mu.Unlock()
}

// ClearActiveChat clears the marker if it still points at chatID. A screen
// closing late must not clear the marker of a screen opened after it.
func (s *State) ClearActiveChat(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeChat != chatID {
		return false
	}
	s.activeChat = ""
	return true
}

// Reset signs the state out.
func (s *State) Reset() {
	s.mu.Lock()
	s.userID = ""
	s.activeChat = ""
	s.mu.Unlock()
}
