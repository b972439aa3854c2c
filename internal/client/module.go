// Package client composes the core components into a running fx app:
// config, logging, lock, cache, backend, auth bridge, and the feature
// components on top of them.
package client

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/auth"
	"github.com/ncastel/charla/internal/bus"
	"github.com/ncastel/charla/internal/chat"
	"github.com/ncastel/charla/internal/config"
	"github.com/ncastel/charla/internal/contact"
	"github.com/ncastel/charla/internal/feed"
	"github.com/ncastel/charla/internal/lock"
	"github.com/ncastel/charla/internal/logging"
	"github.com/ncastel/charla/internal/message"
	"github.com/ncastel/charla/internal/policy"
	"github.com/ncastel/charla/internal/profile"
	"github.com/ncastel/charla/internal/status"
	"github.com/ncastel/charla/internal/store"
	"github.com/ncastel/charla/internal/typing"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
	// Offline runs against an in-memory backend with a static identity.
	// Nothing leaves the process; useful for trying the client out.
	Offline bool
}

// Module returns the fx module for the client, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("client",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideAuthProvider,
			provideBridge,
			provideGuards,
			provideContactManager,
			provideReconciler,
			provideTracker,
			provideChatResolver,
			provideMirror,
			New,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.NewBus()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CacheDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackend(p Params, logger *zap.Logger) (feed.Backend, error) {
	if p.Offline {
		logger.Info("offline mode, using in-memory backend")
		return feed.NewMemory(), nil
	}
	return feed.NewFirebase(context.Background(), feed.FirebaseConfig{
		ProjectID:       p.Config.Firebase.ProjectID,
		DatabaseURL:     p.Config.Firebase.DatabaseURL,
		CredentialsFile: p.Config.Firebase.CredentialsFile,
	}, logger)
}

func provideAuthProvider(p Params) auth.Provider {
	if p.Offline {
		return auth.NewStaticProvider(auth.Identity{
			UID:         "offline",
			Email:       p.Config.Account.Email,
			DisplayName: "Offline",
		})
	}
	return auth.NewPasswordProvider(
		p.Config.Firebase.WebAPIKey,
		p.Config.Account.Email,
		p.Config.Account.Password,
	)
}

func provideBridge(provider auth.Provider, backend feed.Backend, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *auth.Bridge {
	return auth.NewBridge(provider, backend, machine, b, logger)
}

func provideGuards(p Params) *policy.Guards {
	return policy.NewGuards(p.Config.AcceptedDomain)
}

func provideContactManager(backend feed.Backend, guards *policy.Guards, b *bus.Bus, logger *zap.Logger) *contact.Manager {
	return contact.NewManager(backend, guards, b, logger)
}

func provideReconciler(backend feed.Backend, b *bus.Bus, logger *zap.Logger) *message.Reconciler {
	return message.NewReconciler(backend, b, logger)
}

func provideTracker(backend feed.Backend, b *bus.Bus, logger *zap.Logger) *typing.Tracker {
	return typing.NewTracker(backend, b, logger)
}

func provideChatResolver(backend feed.Backend, logger *zap.Logger) *chat.Resolver {
	return chat.NewResolver(backend, logger)
}

func provideMirror(db *store.DB, b *bus.Bus, logger *zap.Logger) *Mirror {
	return NewMirror(db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, c *Client, lk *lock.Lock, mirror *Mirror, bridge *auth.Bridge, tracker *typing.Tracker, backend feed.Backend, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			mirror.Start(context.Background())

			if err := bridge.Start(); err != nil {
				return err
			}
			if err := c.Open(ctx); err != nil {
				_ = machine.Transition(status.Error)
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.CloseChats()
			tracker.Close()
			if bridge.Current() != nil {
				if err := bridge.SignOut(ctx); err != nil {
					logger.Warn("error signing out", zap.Error(err))
				}
			}
			bridge.Close()
			mirror.Stop()
			if err := backend.Close(); err != nil {
				logger.Warn("error closing backend", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
