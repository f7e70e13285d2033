// Package testbackend is an in-process SecureTalk server for tests. It
// serves the REST API with gin and the chat and home event streams with
// gorilla/websocket, relaying frames the way the real consumers do.
package testbackend

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// User is an account on the fake server.
type User struct {
	ID        int
	FirstName string
	LastName  string
	Email     string
	Password  string
	Picture   string
}

func (u *User) FullName() string { return u.FirstName + " " + u.LastName }

// Chat is a conversation between users.
type Chat struct {
	ID          int
	Users       []int
	LastMessage string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is a stored chat message.
type Message struct {
	ID        int
	ChatID    int
	SenderID  int
	Content   string
	IsRead    bool
	CreatedAt time.Time
}

// Server is a running fake backend.
type Server struct {
	*httptest.Server
	secret []byte

	mu       sync.Mutex
	users    map[int]*User
	chats    map[int]*Chat
	messages map[int][]*Message
	nextID   int
	failures map[string]int
	requests []string

	hub *hub
}

// New starts a fake backend that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		secret:   []byte("test-secret"),
		users:    make(map[int]*User),
		chats:    make(map[int]*Chat),
		messages: make(map[int][]*Message),
		failures: make(map[string]int),
		hub:      newHub(),
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(func() {
		s.hub.closeAll()
		s.Close()
	})
	return s
}

// APIURL is the REST base URL.
func (s *Server) APIURL() string { return s.URL + "/securetalk/api" }

// StreamURL is the event-stream base URL.
func (s *Server) StreamURL() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

// AddUser registers an account and returns its id.
func (s *Server) AddUser(first, last, email, password string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(first, last, email, password)
}

func (s *Server) addUserLocked(first, last, email, password string) int {
	s.nextID++
	s.users[s.nextID] = &User{ID: s.nextID, FirstName: first, LastName: last, Email: email, Password: password}
	return s.nextID
}

// SetPicture sets a user's profile picture URL.
func (s *Server) SetPicture(userID int, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].Picture = url
}

// Token mints a bearer token for userID.
func (s *Server) Token(userID int) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(14 * 24 * time.Hour).Unix(),
	}).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return tok
}

// AddChat creates a chat between users and returns its id.
func (s *Server) AddChat(userIDs ...int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addChatLocked(userIDs...)
}

func (s *Server) addChatLocked(userIDs ...int) int {
	s.nextID++
	now := time.Now().UTC()
	s.chats[s.nextID] = &Chat{ID: s.nextID, Users: userIDs, CreatedAt: now, UpdatedAt: now}
	return s.nextID
}

// AddMessage stores a message as if it had been posted at the given time.
func (s *Server) AddMessage(chatID, senderID int, content string, at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addMessageLocked(chatID, senderID, content, at).ID
}

func (s *Server) addMessageLocked(chatID, senderID int, content string, at time.Time) *Message {
	s.nextID++
	m := &Message{ID: s.nextID, ChatID: chatID, SenderID: senderID, Content: content, CreatedAt: at.UTC()}
	s.messages[chatID] = append(s.messages[chatID], m)
	if c := s.chats[chatID]; c != nil {
		c.LastMessage = content
		c.UpdatedAt = m.CreatedAt
	}
	return m
}

// Messages returns a copy of a chat's stored messages.
func (s *Server) Messages(chatID int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.messages[chatID]))
	for _, m := range s.messages[chatID] {
		out = append(out, *m)
	}
	return out
}

// Fail makes requests whose path ends with suffix answer with status until
// cleared with status 0.
func (s *Server) Fail(suffix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, suffix)
		return
	}
	s.failures[suffix] = status
}

// Requests returns "METHOD path" for every REST request served.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(s.record, s.injectFailures)

	api := r.Group("/securetalk/api")
	api.POST("/users/login", s.login)
	api.POST("/users/register", s.register)

	authed := api.Group("", s.authenticate)
	authed.POST("/users/logout", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "User logged out successfully"})
	})
	authed.GET("/users/user_details", s.userDetails)
	authed.GET("/social/contacts", s.contacts)
	authed.GET("/social/chats", s.listChats)
	authed.POST("/social/chats/create", s.createChat)
	authed.GET("/social/chats/:chat/messages", s.listMessages)
	authed.POST("/social/chats/:chat/new_message", s.newMessage)
	authed.POST("/social/chats/:chat/messages/mark_as_read", s.markRead)

	r.GET("/ws/socket-server/:room/", s.serveStream)
	return r
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	s.requests = append(s.requests, c.Request.Method+" "+c.Request.URL.Path)
	s.mu.Unlock()
	c.Next()
}

func (s *Server) injectFailures(c *gin.Context) {
	s.mu.Lock()
	var status int
	for suffix, st := range s.failures {
		if strings.HasSuffix(c.Request.URL.Path, suffix) {
			status = st
		}
	}
	s.mu.Unlock()
	if status != 0 {
		c.AbortWithStatusJSON(status, gin.H{"error": fmt.Sprintf("injected failure %d", status)})
		return
	}
	c.Next()
}

func (s *Server) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	id, _ := claims["user_id"].(float64)
	s.mu.Lock()
	_, known := s.users[int(id)]
	s.mu.Unlock()
	if !known {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}
	c.Set("user_id", int(id))
	c.Next()
}

func currentUser(c *gin.Context) int {
	return c.GetInt("user_id")
}
