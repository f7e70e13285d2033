package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// ErrNotConnected is returned when sending on a stream that is not up.
var ErrNotConnected = errors.New("stream not connected")

// TokenSource returns the stored bearer token, or "" when signed out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// conn is one supervised websocket. Its run goroutine dials, reads until the
// socket fails, and redials according to the policy until closed.
type conn struct {
	url     string
	scope   Scope
	chatID  string
	policy  Policy
	dialer  *websocket.Dialer
	tokens  TokenSource
	me      func() string
	onOpen  func(*conn) error
	handler func(any)
	logger  *zap.Logger

	mu sync.Mutex // guards ws and serializes writes
	ws *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *conn) start(parent context.Context) {
	c.ctx, c.cancel = context.WithCancel(parent)
	c.done = make(chan struct{})
	go c.run()
}

// alive reports whether the supervisor is still running.
func (c *conn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *conn) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *conn) run() {
	defer close(c.done)
	retries := newBackoff(c.policy)
	redial := false

	for {
		ws, err := c.dial()
		if err == nil {
			retries.up()
			if !c.attach(ws) {
				return
			}
			c.logger.Info("stream connected", zap.String("scope", string(c.scope)), zap.String("chat_id", c.chatID), zap.Bool("redial", redial))
			if c.onOpen != nil {
				if oerr := c.onOpen(c); oerr != nil {
					c.logger.Warn("stream open hook failed", zap.String("chat_id", c.chatID), zap.Error(oerr))
				}
			}
			c.emit(&Connected{Scope: c.scope, ChatID: c.chatID, Redial: redial})
			redial = true
			err = c.readLoop(ws)
			c.setWS(nil)
			_ = ws.Close()
		}

		if c.ctx.Err() != nil {
			return
		}

		var delay time.Duration
		retry := false
		if c.policy.Reconnect {
			delay, retry = retries.next()
		}
		c.logger.Warn("stream disconnected",
			zap.String("scope", string(c.scope)),
			zap.String("chat_id", c.chatID),
			zap.Bool("will_retry", retry),
			zap.Error(err),
		)
		c.emit(&Disconnected{Scope: c.scope, ChatID: c.chatID, Err: err, WillRetry: retry})
		if !retry {
			return
		}

		c.emit(&Reconnecting{Scope: c.scope, ChatID: c.chatID, Attempt: retries.attempt})
		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *conn) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if c.tokens != nil {
		tok, err := c.tokens.Token(c.ctx)
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}
		if tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	ws, resp, err := c.dialer.DialContext(c.ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return ws, nil
}

func (c *conn) setWS(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

// attach publishes a freshly dialed socket. A close that ran during the dial
// found nothing to shut, so the socket is closed here and attach reports false.
func (c *conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		_ = ws.Close()
		return false
	}
	c.ws = ws
	return true
}

// readLoop delivers frames until the socket fails. Pings run alongside it
// and stop when it returns.
func (c *conn) readLoop(ws *websocket.Conn) error {
	interval := c.policy.PingInterval
	wait := interval * 10 / 9
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(wait))
		if c.ctx.Err() != nil {
			return c.ctx.Err()
		}

		evt, err := decodeFrame(data, c.scope, c.chatID, c.me())
		if err != nil {
			c.logger.Warn("dropping stream frame", zap.String("scope", string(c.scope)), zap.String("chat_id", c.chatID), zap.Error(err))
			continue
		}
		c.emit(evt)
	}
}

func (c *conn) emit(evt any) {
	if c.handler != nil {
		c.handler(evt)
	}
}

// send writes one JSON frame.
func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// close stops the supervisor and waits for it. No lifecycle event is
// delivered for a deliberate close.
func (c *conn) close() {
	c.cancel()
	c.mu.Lock()
	if c.ws != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	}
	c.mu.Unlock()
	<-c.done
}
