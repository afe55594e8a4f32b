package daemon

import (
	"context"
	"fmt"

	"github.com/charla-social/charla/internal/bus"
	"github.com/charla-social/charla/internal/cache"
	"github.com/charla-social/charla/internal/config"
	"github.com/charla-social/charla/internal/engine"
	"github.com/charla-social/charla/internal/identity"
	"github.com/charla-social/charla/internal/lock"
	"github.com/charla-social/charla/internal/logging"
	"github.com/charla-social/charla/internal/moderation"
	"github.com/charla-social/charla/internal/paths"
	"github.com/charla-social/charla/internal/push"
	"github.com/charla-social/charla/internal/rest"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	ConfigPath string // optional override; empty = default location
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideCache,
			provideIdentity,
			provideGate,
			provideRestClient,
			provideTransport,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.Profile), p.Profile)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = paths.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	logger.Info("configuration loaded", zap.String("path", path))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureProfileDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(paths.ProfileDir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := paths.CachePath(p.Profile)
	db, err := cache.Open(dbPath)
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
	logger.Info("offline cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIdentity(p Params, logger *zap.Logger) (*identity.Store, error) {
	creds, err := identity.Load(paths.TokenPath(p.Profile))
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	logger.Info("identity loaded", zap.String("user", creds.Self().ID))
	return creds, nil
}

func provideGate(cfg *config.Config, logger *zap.Logger) *moderation.Gate {
	var text moderation.TextClassifier
	var image moderation.ImageClassifier
	if cfg.Moderation.TextEndpoint != "" {
		text = moderation.NewHTTPTextClassifier(cfg.Moderation.TextEndpoint, cfg.API.CallTimeout.Std())
	}
	if cfg.Moderation.ImageEndpoint != "" {
		image = moderation.NewHTTPImageClassifier(cfg.Moderation.ImageEndpoint, cfg.API.CallTimeout.Std())
	}
	return moderation.NewGate(text, image, moderation.Options{
		Denylist:        cfg.Moderation.Denylist,
		TextThresholds:  cfg.Moderation.TextThresholds,
		ImageThresholds: cfg.Moderation.ImageThresholds,
		FailPolicy:      moderation.Policy(cfg.Moderation.FailPolicy),
	}, logger)
}

func provideRestClient(cfg *config.Config, creds *identity.Store, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.API.BaseURL, creds, cfg.API.CallTimeout.Std(), logger)
}

func provideTransport(cfg *config.Config, creds *identity.Store, b *bus.Bus, logger *zap.Logger) push.Transport {
	return push.NewTransport(cfg.API.PushURL, creds.Token(), b, logger)
}

func provideEngine(
	cfg *config.Config,
	rc *rest.Client,
	gate *moderation.Gate,
	db *cache.DB,
	creds *identity.Store,
	tr push.Transport,
	b *bus.Bus,
	logger *zap.Logger,
) *engine.Engine {
	return engine.New(cfg, rc, gate, db, creds, tr, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, eng *engine.Engine, db *cache.DB, lk *lock.Lock, b *bus.Bus, logger *zap.Logger) {
	runCtx, stop := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Log store changes so a profile run is inspectable from
			// the log file alone.
			ch, unsub := b.Subscribe("store.", 256)
			go func() {
				defer unsub()
				for {
					select {
					case <-runCtx.Done():
						return
					case evt := <-ch:
						logger.Debug("store updated", zap.String("kind", evt.Kind), zap.Any("change", evt.Payload))
					}
				}
			}()

			for _, convID := range cfg.Conversations {
				if _, err := eng.Open(context.Background(), convID); err != nil {
					logger.Error("open conversation failed", zap.String("conversation", convID), zap.Error(err))
				}
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			stop()
			eng.CloseAll()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
