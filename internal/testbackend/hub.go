package testbackend

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const homeRoom = "home"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) send(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = p.conn.WriteJSON(v)
}

// hub groups stream connections into rooms: "home" plus one per chat id.
type hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*peer]struct{}
	frames []Frame
}

// Frame is a message a client sent on a stream.
type Frame struct {
	Room string
	Data map[string]any
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[*peer]struct{})}
}

func (h *hub) join(room string, p *peer) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*peer]struct{})
	}
	h.rooms[room][p] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) leave(room string, p *peer) {
	h.mu.Lock()
	delete(h.rooms[room], p)
	h.mu.Unlock()
}

func (h *hub) peers(room string) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*peer, 0, len(h.rooms[room]))
	for p := range h.rooms[room] {
		out = append(out, p)
	}
	return out
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range h.rooms {
		for p := range room {
			_ = p.conn.Close()
		}
	}
}

func (s *Server) serveStream(c *gin.Context) {
	room := c.Param("room")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn}
	s.hub.join(room, p)
	defer func() {
		s.hub.leave(room, p)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		s.hub.mu.Lock()
		s.hub.frames = append(s.hub.frames, Frame{Room: room, Data: frame})
		s.hub.mu.Unlock()
		s.relay(room, frame)
	}
}

// relay fans a client frame out to its room and to home, keeping only the
// fields each consumer forwards.
func (s *Server) relay(room string, frame map[string]any) {
	kind, _ := frame["type"].(string)
	out := map[string]any{"type": kind, "chat_id": frame["chat_id"]}
	switch kind {
	case "new_message":
		out["message"] = frame["message"]
	case "mark_as_read":
		out["message_id"] = frame["message_id"]
	case "mark_all_as_read":
	default:
		return
	}
	for _, p := range s.hub.peers(room) {
		p.send(out)
	}
	if room != homeRoom && kind != "mark_as_read" {
		for _, p := range s.hub.peers(homeRoom) {
			p.send(out)
		}
	}
}

// Push sends a frame from the server to every connection in room.
func (s *Server) Push(room string, frame any) {
	for _, p := range s.hub.peers(room) {
		p.send(frame)
	}
}

// PushNewMessage stores a message from sender and pushes it to the chat room
// and to home, as a connected client of that user would.
func (s *Server) PushNewMessage(chatID, senderID int, content string) int {
	s.mu.Lock()
	m := s.addMessageLocked(chatID, senderID, content, time.Now())
	payload := s.messageJSON(m, senderID)
	s.mu.Unlock()
	s.relay(strconv.Itoa(chatID), map[string]any{"type": "new_message", "chat_id": chatID, "message": payload})
	return m.ID
}

// Frames returns every frame clients have sent so far.
func (s *Server) Frames() []Frame {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return append([]Frame(nil), s.hub.frames...)
}

// WaitFrame blocks until a client has sent a frame matching fn or timeout elapses.
func (s *Server) WaitFrame(timeout time.Duration, fn func(Frame) bool) (Frame, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, f := range s.Frames() {
			if fn(f) {
				return f, true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return Frame{}, false
}

// WaitPeers blocks until room has at least n connections.
func (s *Server) WaitPeers(room string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(s.hub.peers(room)) >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Drop closes every connection in room, as a server restart would.
func (s *Server) Drop(room string) {
	for _, p := range s.hub.peers(room) {
		_ = p.conn.Close()
	}
}
