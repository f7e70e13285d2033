package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/securetalk/internal/bus"
	"github.com/matheus3301/securetalk/internal/cache"
	"github.com/matheus3301/securetalk/internal/identity"
	"github.com/matheus3301/securetalk/internal/logging"
	"github.com/matheus3301/securetalk/internal/rest"
	"github.com/matheus3301/securetalk/internal/session"
	"github.com/matheus3301/securetalk/internal/status"
	"go.uber.org/zap"
)

// HomeStreams starts and stops the home event stream.
type HomeStreams interface {
	StartHome()
	StopHome()
}

// LogoutAPI ends the session on the server.
type LogoutAPI interface {
	Logout(ctx context.Context) error
}

// Session moves the daemon between signed-in and signed-out.
type Session struct {
	cache    *cache.Cache
	identity *identity.Resolver
	api      LogoutAPI
	home     HomeStreams
	chats    *ChatList
	threads  *Threads
	state    *session.State
	status   *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// NewSession creates the sign-in controller.
func NewSession(c *cache.Cache, api LogoutAPI, home HomeStreams, chats *ChatList, threads *Threads, state *session.State, sm *status.Machine, b *bus.Bus, logger *zap.Logger) *Session {
	logger = logging.OrNop(logger)
	return &Session{
		cache:    c,
		identity: identity.NewResolver(c),
		api:      api,
		home:     home,
		chats:    chats,
		threads:  threads,
		state:    state,
		status:   sm,
		bus:      b,
		logger:   logger,
		now:      time.Now,
	}
}

// Resume connects with the stored token, or asks for a sign-in when there is
// no usable one. It reports whether the session is signed in.
func (s *Session) Resume(ctx context.Context) bool {
	claims, err := s.identity.Resolve(ctx)
	switch {
	case errors.Is(err, identity.ErrNoToken):
		s.logger.Info("no stored token, sign-in required")
		s.requireAuth()
		return false
	case err != nil:
		s.logger.Warn("stored token unusable", zap.Error(err))
		s.requireAuth()
		return false
	case claims.Expired(s.now()):
		s.logger.Info("stored token expired", zap.Time("expires_at", claims.ExpiresAt))
		s.requireAuth()
		return false
	}
	s.connect(ctx, claims.UserID)
	return true
}

// SignIn stores token and connects as its user.
func (s *Session) SignIn(ctx context.Context, token string) (string, error) {
	claims, err := identity.Decode(token)
	if err != nil {
		return "", err
	}
	if err := s.cache.SetToken(ctx, token); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	if prev := s.state.UserID(); prev != "" && prev != claims.UserID {
		s.teardown()
	}
	s.connect(ctx, claims.UserID)
	return claims.UserID, nil
}

func (s *Session) connect(ctx context.Context, userID string) {
	s.state.SetUserID(userID)
	if err := s.status.Walk(status.Connecting); err != nil {
		s.logger.Debug("status transition skipped", zap.Error(err))
	}
	s.home.StartHome()
	s.logger.Info("signed in", zap.String("user_id", userID))

	if _, err := s.chats.RefreshFromServer(ctx); err != nil {
		if rest.IsKind(err, rest.KindAuthMissing) {
			s.logger.Warn("server rejected the stored token", zap.Error(err))
			s.SignOut(ctx)
			return
		}
		s.logger.Warn("initial chat refresh failed", zap.Error(err))
	}
}

// SignOut tells the server, forgets the token and the chat list, and stops
// every stream. The server call is best effort.
func (s *Session) SignOut(ctx context.Context) {
	if tok, _ := s.cache.Token(ctx); tok != "" && s.api != nil {
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Warn("server logout failed", zap.Error(err))
		}
	}
	s.teardown()
	if err := s.cache.ClearSession(ctx); err != nil {
		s.logger.Warn("clear session cache failed", zap.Error(err))
	}
	s.chats.Clear()
	s.state.Reset()
	s.requireAuth()
	s.bus.Emit(bus.KindSessionSignOut, nil)
	s.logger.Info("signed out")
}

func (s *Session) teardown() {
	s.threads.CloseAll()
	s.home.StopHome()
}

func (s *Session) requireAuth() {
	if s.status.Current() == status.AuthRequired {
		return
	}
	if err := s.status.Transition(status.AuthRequired); err != nil {
		s.logger.Debug("status transition skipped", zap.Error(err))
	}
}
