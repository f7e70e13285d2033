// Package api serves the daemon's sync core over gRPC.
package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/securetalk/internal/bus"
	"github.com/matheus3301/securetalk/internal/cache"
	"github.com/matheus3301/securetalk/internal/model"
	"github.com/matheus3301/securetalk/internal/rest"
	"github.com/matheus3301/securetalk/internal/session"
	"github.com/matheus3301/securetalk/internal/status"
	intsync "github.com/matheus3301/securetalk/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// watchPrefixes are the bus namespaces relayed by WatchEvents.
var watchPrefixes = []string{"chats.", "thread.", "notify.", "session."}

const watchBuffer = 256

// Deps are the components the service drives.
type Deps struct {
	SessionName string
	REST        *rest.Client
	Cache       *cache.Cache
	Session     *intsync.Session
	Chats       *intsync.ChatList
	Threads     *intsync.Threads
	State       *session.State
	Machine     *status.Machine
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// Service implements TalkServer.
type Service struct {
	Deps
	startedAt time.Time
	done      chan struct{}
	closeOnce sync.Once
}

var _ TalkServer = (*Service)(nil)

// NewService creates the daemon API.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{Deps: d, startedAt: time.Now(), done: make(chan struct{})}
}

// Shutdown ends every WatchEvents stream.
func (s *Service) Shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registration struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Gender      string `json:"gender"`
	DateOfBirth string `json:"date_of_birth"`
}

type chatRequest struct {
	ChatID string `json:"chat_id"`
}

type sendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type retryRequest struct {
	ChatID   string `json:"chat_id"`
	ClientID int64  `json:"client_id"`
}

func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"session":     s.SessionName,
		"status":      string(s.Machine.Current()),
		"user_id":     s.State.UserID(),
		"active_chat": s.State.ActiveChat(),
		"chats":       len(s.Chats.Snapshot()),
		"uptime_ms":   time.Since(s.startedAt).Milliseconds(),
	})
}

func (s *Service) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in credentials
	if err := decodeRequest(req, &in); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if in.Email == "" || in.Password == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "email and password are required")
	}
	token, err := s.REST.Login(ctx, in.Email, in.Password)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.signIn(ctx, token)
}

func (s *Service) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in registration
	if err := decodeRequest(req, &in); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if in.Email == "" || in.Password == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "email and password are required")
	}
	token, err := s.REST.Register(ctx, rest.Registration{
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Email:       in.Email,
		Password:    in.Password,
		Gender:      in.Gender,
		DateOfBirth: in.DateOfBirth,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return s.signIn(ctx, token)
}

func (s *Service) signIn(ctx context.Context, token string) (*structpb.Struct, error) {
	uid, err := s.Session.SignIn(ctx, token)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"user_id": uid})
}

func (s *Service) Logout(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.Session.SignOut(ctx)
	return &emptypb.Empty{}, nil
}

func (s *Service) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	u, err := s.REST.UserDetails(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	v, err := toValue(u)
	if err != nil {
		return nil, toStatus(err)
	}
	m, _ := v.(map[string]any)
	return structpb.NewStruct(m)
}

func (s *Service) ListChats(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := decodeRequest(req, &in); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return toStruct(map[string]any{"chats": s.Chats.Search(in.Query)})
}

func (s *Service) RefreshChats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.requireUser(); err != nil {
		return nil, err
	}
	chats, err := s.Chats.RefreshFromServer(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"chats": chats})
}

func (s *Service) ListContacts(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	users, err := s.REST.Contacts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	for _, u := range users {
		if !strings.HasPrefix(u.ProfilePicture, "https://") {
			continue
		}
		if err := s.Cache.SetProfilePicture(ctx, string(u.ID), u.ProfilePicture); err != nil {
			s.Logger.Warn("failed to cache profile picture", zap.String("contact_id", string(u.ID)), zap.Error(err))
		}
	}
	if users == nil {
		users = []model.User{}
	}
	return toStruct(map[string]any{"users": users})
}

func (s *Service) CreateChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		ContactID string `json:"contact_id"`
	}
	if err := decodeRequest(req, &in); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if in.ContactID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "contact_id is required")
	}
	chat, isNew, err := s.REST.CreateChat(ctx, in.ContactID)
	if err != nil {
		return nil, toStatus(err)
	}
	if _, err := s.Chats.RefreshFromServer(ctx); err != nil {
		s.Logger.Warn("chat refresh after create failed", zap.Error(err))
	}
	return toStruct(map[string]any{"chat": chat, "is_new": isNew})
}

func (s *Service) OpenChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID, err := s.chatID(req)
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(); err != nil {
		return nil, err
	}
	t := s.Threads.Open(ctx, chatID)
	return toStruct(map[string]any{"entries": t.Entries()})
}

func (s *Service) CloseChat(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	chatID, err := s.chatID(req)
	if err != nil {
		return nil, err
	}
	s.Threads.Close(chatID)
	return &emptypb.Empty{}, nil
}

func (s *Service) GetThread(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID, err := s.chatID(req)
	if err != nil {
		return nil, err
	}
	t, err := s.thread(chatID)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"entries": t.Entries()})
}

func (s *Service) SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in sendRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	t, err := s.thread(in.ChatID)
	if err != nil {
		return nil, err
	}
	msg, err := t.ComposeAndSend(ctx, in.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"message": msg})
}

func (s *Service) RetryMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in retryRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if in.ClientID == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "client_id is required")
	}
	t, err := s.thread(in.ChatID)
	if err != nil {
		return nil, err
	}
	msg, err := t.Retry(ctx, in.ClientID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"message": msg})
}

func (s *Service) WatchEvents(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch, unsub := s.Bus.Subscribe("", watchBuffer)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !watched(evt.Kind) {
				continue
			}
			env, err := s.envelope(evt)
			if err != nil {
				s.Logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return nil
		}
	}
}

func (s *Service) envelope(evt bus.Event) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"id":      uuid.New().String(),
		"session": s.SessionName,
		"kind":    evt.Kind,
		"ts":      evt.Timestamp.UnixMilli(),
		"payload": evt.Payload,
	})
}

func watched(kind string) bool {
	for _, p := range watchPrefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

func (s *Service) chatID(req *structpb.Struct) (string, error) {
	var in chatRequest
	if err := decodeRequest(req, &in); err != nil {
		return "", grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if in.ChatID == "" {
		return "", grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	return in.ChatID, nil
}

func (s *Service) thread(chatID string) (*intsync.Thread, error) {
	if chatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	t, ok := s.Threads.Get(chatID)
	if !ok {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "chat %s is not open", chatID)
	}
	return t, nil
}

func (s *Service) requireUser() error {
	if s.State.UserID() == "" {
		return grpcstatus.Error(codes.Unauthenticated, "not signed in")
	}
	return nil
}
