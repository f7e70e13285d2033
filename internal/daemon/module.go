package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/securetalk/internal/api"
	"github.com/matheus3301/securetalk/internal/bus"
	"github.com/matheus3301/securetalk/internal/cache"
	"github.com/matheus3301/securetalk/internal/config"
	"github.com/matheus3301/securetalk/internal/lock"
	"github.com/matheus3301/securetalk/internal/logging"
	"github.com/matheus3301/securetalk/internal/notify"
	"github.com/matheus3301/securetalk/internal/rest"
	"github.com/matheus3301/securetalk/internal/session"
	"github.com/matheus3301/securetalk/internal/status"
	"github.com/matheus3301/securetalk/internal/store"
	"github.com/matheus3301/securetalk/internal/stream"
	intsync "github.com/matheus3301/securetalk/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = ~/.securetalk/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			cache.New,
			provideREST,
			session.NewState,
			provideStreams,
			provideChatList,
			provideThreads,
			provideSession,
			provideDispatcher,
			provideEngine,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(session.EnvPath(p.SessionName)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(lc fx.Lifecycle, p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", session.LockPath(p.SessionName)))
	// Appended first, so it runs after every other stop hook.
	lc.Append(fx.StopHook(func() {
		if err := l.Release(); err != nil {
			logger.Warn("error releasing lock", zap.Error(err))
		}
	}))
	return l, nil
}

// provideStore opens the cache backend. The lock parameter orders it after
// the session lock.
func provideStore(lc fx.Lifecycle, p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (cache.Store, error) {
	if cfg.Store.Backend == config.BackendRedis {
		r, err := store.OpenRedis(context.Background(), store.RedisOptions{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   "securetalk:" + p.SessionName + ":",
		})
		if err != nil {
			return nil, err
		}
		lc.Append(fx.StopHook(r.Close))
		logger.Info("store initialized", zap.String("backend", config.BackendRedis), zap.String("addr", cfg.Store.RedisAddr))
		return r, nil
	}

	db, err := store.Open(session.CacheDBPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	lc.Append(fx.StopHook(db.Close))
	logger.Info("store initialized", zap.String("backend", config.BackendSQLite), zap.String("path", db.Path()))
	return db, nil
}

func provideREST(cfg *config.Config, c *cache.Cache) *rest.Client {
	return rest.New(cfg.Server.APIURL, c, rest.WithTimeout(cfg.Server.RequestTimeout.Duration))
}

func provideStreams(cfg *config.Config, c *cache.Cache, state *session.State, logger *zap.Logger) *stream.Manager {
	policy := stream.Policy{
		Reconnect:    cfg.Stream.Reconnect,
		BaseDelay:    cfg.Stream.BaseDelay.Duration,
		MaxDelay:     cfg.Stream.MaxDelay.Duration,
		MaxAttempts:  cfg.Stream.MaxAttempts,
		PingInterval: cfg.Stream.PingInterval.Duration,
	}
	return stream.NewManager(cfg.Server.StreamURL, policy, c, state.UserID, logger.Named("stream"))
}

func provideChatList(rc *rest.Client, c *cache.Cache, state *session.State, b *bus.Bus, logger *zap.Logger) *intsync.ChatList {
	return intsync.NewChatList(rc, c, state, b, logger.Named("chats"))
}

func provideThreads(rc *rest.Client, streams *stream.Manager, c *cache.Cache, chats *intsync.ChatList, state *session.State, b *bus.Bus, logger *zap.Logger) *intsync.Threads {
	return intsync.NewThreads(rc, streams, c, chats, state, b, logger.Named("threads"))
}

func provideSession(c *cache.Cache, rc *rest.Client, streams *stream.Manager, chats *intsync.ChatList, threads *intsync.Threads, state *session.State, m *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Session {
	return intsync.NewSession(c, rc, streams, chats, threads, state, m, b, logger)
}

func provideDispatcher(b *bus.Bus, state *session.State, logger *zap.Logger) *notify.Dispatcher {
	n := notify.Multi{notify.NewBusNotifier(b), notify.NewLogNotifier(logger.Named("notify"))}
	return notify.NewDispatcher(n, state, logger)
}

func provideEngine(chats *intsync.ChatList, threads *intsync.Threads, d *notify.Dispatcher, m *status.Machine, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(chats, threads, d, m, logger.Named("engine"))
}

func provideService(p Params, rc *rest.Client, c *cache.Cache, sess *intsync.Session, chats *intsync.ChatList, threads *intsync.Threads, state *session.State, m *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(api.Deps{
		SessionName: p.SessionName,
		REST:        rc,
		Cache:       c,
		Session:     sess,
		Chats:       chats,
		Threads:     threads,
		State:       state,
		Machine:     m,
		Bus:         b,
		Logger:      logger.Named("api"),
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, svc *api.Service, streams *stream.Manager, threads *intsync.Threads, engine *intsync.Engine, chats *intsync.ChatList, sess *intsync.Session, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			streams.RegisterEventHandler(engine.Handle)

			// Cached chats are served before the first refresh completes.
			n := chats.Load(startCtx)
			logger.Info("chat cache loaded", zap.Int("chats", n))

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go sess.Resume(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			threads.CloseAll()
			streams.CloseAll()
			engine.Stop()
			svc.Shutdown()
			srv.Stop(stopCtx)
			logger.Info("daemon stopped")
			return nil
		},
	})
}
