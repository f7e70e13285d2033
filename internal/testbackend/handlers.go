package testbackend

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) login(c *gin.Context) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	s.mu.Lock()
	var found *User
	for _, u := range s.users {
		if u.Email == body.Email && u.Password == body.Password {
			found = u
		}
	}
	s.mu.Unlock()
	if found == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Validation errors",
			"errors":  gin.H{"login": "Invalid email or password"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User logged in successfully", "token": s.Token(found.ID)})
}

func (s *Server) register(c *gin.Context) {
	var body struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Email == "" || len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Validation errors",
			"errors":  gin.H{"password": "Password must be at least 8 characters"},
		})
		return
	}
	s.mu.Lock()
	id := s.addUserLocked(body.FirstName, body.LastName, body.Email, body.Password)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "User registered successfully", "token": s.Token(id)})
}

func (s *Server) userDetails(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.userJSON(s.users[currentUser(c)]))
}

func (s *Server) contacts(c *gin.Context) {
	me := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	users := []gin.H{}
	for _, id := range s.sortedUserIDs() {
		if id != me {
			users = append(users, s.userJSON(s.users[id]))
		}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) listChats(c *gin.Context) {
	me := currentUser(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []*Chat
	for _, ch := range s.chats {
		if contains(ch.Users, me) {
			mine = append(mine, ch)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].UpdatedAt.After(mine[j].UpdatedAt) })
	out := []gin.H{}
	for _, ch := range mine {
		out = append(out, s.chatJSON(ch, me))
	}
	c.JSON(http.StatusOK, gin.H{"chats": out})
}

func (s *Server) createChat(c *gin.Context) {
	me := currentUser(c)
	var body struct {
		ContactID int `json:"contactId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ContactID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Contact ID is required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[body.ContactID]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	for _, ch := range s.chats {
		if contains(ch.Users, me) && contains(ch.Users, body.ContactID) {
			c.JSON(http.StatusOK, gin.H{"message": "Chat already exists", "chat": s.chatJSON(ch, me), "isNew": false})
			return
		}
	}
	id := s.addChatLocked(body.ContactID, me)
	c.JSON(http.StatusCreated, gin.H{"message": "Chat created successfully", "chat": s.chatJSON(s.chats[id], me), "isNew": true})
}

func (s *Server) listMessages(c *gin.Context) {
	me := currentUser(c)
	chat, ok := s.chatFor(c, me)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []gin.H{}
	for _, m := range s.messages[chat] {
		out = append(out, s.messageJSON(m, me))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (s *Server) newMessage(c *gin.Context) {
	me := currentUser(c)
	chat, ok := s.chatFor(c, me)
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message content is required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.addMessageLocked(chat, me, body.Content, time.Now())
	c.JSON(http.StatusCreated, gin.H{"message": s.messageJSON(m, me)})
}

func (s *Server) markRead(c *gin.Context) {
	me := currentUser(c)
	chat, ok := s.chatFor(c, me)
	if !ok {
		return
	}
	s.mu.Lock()
	for _, m := range s.messages[chat] {
		if m.SenderID != me {
			m.IsRead = true
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "Messages marked as read"})
}

func (s *Server) chatFor(c *gin.Context, me int) (int, bool) {
	id, err := strconv.Atoi(c.Param("chat"))
	s.mu.Lock()
	ch, found := s.chats[id]
	s.mu.Unlock()
	if err != nil || !found || !contains(ch.Users, me) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return 0, false
	}
	return id, true
}

func (s *Server) userJSON(u *User) gin.H {
	return gin.H{
		"id":              u.ID,
		"fullName":        u.FullName(),
		"profile_picture": u.Picture,
		"first_name":      u.FirstName,
		"last_name":       u.LastName,
		"email":           u.Email,
	}
}

// chatJSON names the chat after the other participant, as the server does.
func (s *Server) chatJSON(ch *Chat, me int) gin.H {
	users := []gin.H{}
	name, image := "", ""
	for _, id := range ch.Users {
		u := s.users[id]
		users = append(users, s.userJSON(u))
		if id != me {
			name, image = u.FullName(), u.Picture
		}
	}
	var last any
	if ch.LastMessage != "" {
		last = ch.LastMessage
	}
	return gin.H{
		"id":           ch.ID,
		"users":        users,
		"last_message": last,
		"chatName":     name,
		"contactImage": image,
		"createdAt":    ch.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":    ch.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Server) messageJSON(m *Message, me int) gin.H {
	status := "sent"
	if m.IsRead {
		status = "read"
	}
	sender := s.users[m.SenderID]
	return gin.H{
		"id":                m.ID,
		"sender":            gin.H{"id": sender.ID, "fullName": sender.FullName()},
		"content":           m.Content,
		"isFromCurrentUser": m.SenderID == me,
		"is_read":           m.IsRead,
		"status":            status,
		"createdAt":         m.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":         m.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Server) sortedUserIDs() []int {
	ids := make([]int, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
