package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/securetalk/internal/logging"
	"go.uber.org/zap"
)

const homeRoom = "home"

// Manager owns the home connection and one connection per open chat.
type Manager struct {
	baseURL string
	policy  Policy
	tokens  TokenSource
	me      func() string
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu      sync.Mutex
	handler Handler
	root    context.Context
	stop    context.CancelFunc
	home    *conn
	chats   map[string]*conn
}

// NewManager creates a manager dialing rooms under baseURL, e.g.
// ws://host:8000. me returns the current user's id and is used to tell own
// messages from others'.
func NewManager(baseURL string, policy Policy, tokens TokenSource, me func() string, logger *zap.Logger) *Manager {
	if me == nil {
		me = func() string { return "" }
	}
	logger = logging.OrNop(logger)
	root, stop := context.WithCancel(context.Background())
	return &Manager{
		baseURL: strings.TrimRight(baseURL, "/"),
		policy:  policy.withDefaults(),
		tokens:  tokens,
		me:      me,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
		root:   root,
		stop:   stop,
		chats:  make(map[string]*conn),
	}
}

// RegisterEventHandler sets the handler every connection delivers to.
// Connections opened earlier keep the previous handler.
func (m *Manager) RegisterEventHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// RoomURL returns the socket URL of a room: "home" or a chat id.
func (m *Manager) RoomURL(room string) string {
	return m.baseURL + "/ws/socket-server/" + url.PathEscape(room) + "/"
}

func (m *Manager) newConn(scope Scope, chatID, room string) *conn {
	return &conn{
		url:     m.RoomURL(room),
		scope:   scope,
		chatID:  chatID,
		policy:  m.policy,
		dialer:  m.dialer,
		tokens:  m.tokens,
		me:      m.me,
		handler: m.handler,
		logger:  m.logger,
	}
}

// StartHome connects the home channel. Calling it while the home
// connection is running does nothing.
func (m *Manager) StartHome() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.root.Err() != nil {
		return
	}
	if m.home != nil && m.home.alive() {
		return
	}
	c := m.newConn(ScopeHome, "", homeRoom)
	c.start(m.root)
	m.home = c
}

// StopHome closes the home connection.
func (m *Manager) StopHome() {
	m.mu.Lock()
	c := m.home
	m.home = nil
	m.mu.Unlock()
	if c != nil {
		c.close()
	}
}

// HomeConnected reports whether the home socket is currently up.
func (m *Manager) HomeConnected() bool {
	m.mu.Lock()
	c := m.home
	m.mu.Unlock()
	return c != nil && c.connected()
}

// OpenChat connects the chat's channel. Every successful dial, first or
// not, announces that all of the chat's messages have been read.
func (m *Manager) OpenChat(chatID string) error {
	if chatID == "" {
		return fmt.Errorf("open chat stream: empty chat id")
	}
	m.mu.Lock()
	if m.root.Err() != nil {
		m.mu.Unlock()
		return fmt.Errorf("open chat stream: manager closed")
	}
	if c, ok := m.chats[chatID]; ok && c.alive() {
		m.mu.Unlock()
		return nil
	}
	c := m.newConn(ScopeChat, chatID, chatID)
	c.onOpen = func(c *conn) error {
		return c.send(MarkAllAsRead(chatID))
	}
	c.start(m.root)
	m.chats[chatID] = c
	m.mu.Unlock()
	return nil
}

// CloseChat closes the chat's connection. It must not be called from the
// event handler.
func (m *Manager) CloseChat(chatID string) {
	m.mu.Lock()
	c := m.chats[chatID]
	delete(m.chats, chatID)
	m.mu.Unlock()
	if c != nil {
		c.close()
	}
}

// ChatConnected reports whether the chat's socket is currently up.
func (m *Manager) ChatConnected(chatID string) bool {
	m.mu.Lock()
	c := m.chats[chatID]
	m.mu.Unlock()
	return c != nil && c.connected()
}

// SendChat writes a frame on the chat's connection.
func (m *Manager) SendChat(chatID string, out Outbound) error {
	m.mu.Lock()
	c := m.chats[chatID]
	m.mu.Unlock()
	if c == nil {
		return fmt.Errorf("send on chat %s: %w", chatID, ErrNotConnected)
	}
	if err := c.send(out); err != nil {
		return fmt.Errorf("send on chat %s: %w", chatID, err)
	}
	return nil
}

// CloseAll closes every connection. The manager cannot be reused.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.stop()
	conns := make([]*conn, 0, len(m.chats)+1)
	if m.home != nil {
		conns = append(conns, m.home)
	}
	for _, c := range m.chats {
		conns = append(conns, c)
	}
	m.home = nil
	m.chats = make(map[string]*conn)
	m.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
