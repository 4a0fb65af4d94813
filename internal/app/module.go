// Package app composes the client: config, logging, the data-dir lock,
// the store, the sync client and the frame loop, wired with fx.
package app

import (
	"context"
	"time"

	"github.com/ralph-groupscholar/slack/internal/appstate"
	"github.com/ralph-groupscholar/slack/internal/bus"
	"github.com/ralph-groupscholar/slack/internal/config"
	"github.com/ralph-groupscholar/slack/internal/hydrate"
	"github.com/ralph-groupscholar/slack/internal/lock"
	"github.com/ralph-groupscholar/slack/internal/logging"
	"github.com/ralph-groupscholar/slack/internal/outbox"
	"github.com/ralph-groupscholar/slack/internal/paths"
	"github.com/ralph-groupscholar/slack/internal/realtime"
	"github.com/ralph-groupscholar/slack/internal/thumb"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the command-line configuration passed to the fx module.
type Params struct {
	ConfigPath string // empty = default under the data dir
	Bench      bool   // render one frame and exit
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideBus,
			provideThumbs,
			provideFacade,
			provideClient,
			provideSender,
			provideHydrator,
			provideRenderer,
			provideLoop,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	base := paths.BaseDir()
	path := p.ConfigPath
	if path == "" {
		path = paths.ConfigPath(base)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = base
	}
	if err := paths.EnsureDirs(cfg.DataDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(paths.LogPath(cfg.DataDir))
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideThumbs(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *thumb.Cache {
	return thumb.New(thumb.Options{
		Capacity:      cfg.ThumbCacheCap,
		ErrorCapacity: cfg.ThumbErrorCacheCap,
		MaxDim:        cfg.ThumbMaxDim,
	}, b, logger)
}

func provideFacade(cfg *config.Config, b *bus.Bus, thumbs *thumb.Cache, logger *zap.Logger) *appstate.Facade {
	return appstate.New(appstate.Options{
		User:               cfg.User,
		FetchLimit:         cfg.FetchLimit,
		TypingTTL:          time.Duration(cfg.TypingTTLMS) * time.Millisecond,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	}, b, thumbs, logger)
}

func provideClient(cfg *config.Config, f *appstate.Facade, b *bus.Bus, logger *zap.Logger) *realtime.Client {
	return realtime.New(realtime.Options{
		Endpoint:   cfg.Endpoint,
		User:       cfg.User,
		Token:      cfg.Token,
		AckTimeout: time.Duration(cfg.AckTimeoutMS) * time.Millisecond,
		MaxRetries: cfg.MaxRetries,
	}, f, b, logger)
}

func provideSender(client *realtime.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.New(client, b, logger)
}

func provideHydrator(cfg *config.Config, f *appstate.Facade, b *bus.Bus, logger *zap.Logger) *hydrate.Hydrator {
	return hydrate.New(hydrate.Options{
		DBPath:     paths.DBPath(cfg.DataDir),
		FetchLimit: cfg.FetchLimit,
	}, f, b, logger)
}

func provideRenderer(logger *zap.Logger) Renderer {
	return NewLogRenderer(logger)
}

func provideLoop(p Params, f *appstate.Facade, b *bus.Bus, r Renderer, sd fx.Shutdowner, logger *zap.Logger) *Loop {
	return NewLoop(f, b, r, p.Bench, sd, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	lk *lock.Lock,
	thumbs *thumb.Cache,
	facade *appstate.Facade,
	client *realtime.Client,
	sender *outbox.Sender,
	hydrator *hydrate.Hydrator,
	loop *Loop,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			thumbs.Start(context.Background())
			sender.Start(context.Background())

			// First frame renders from the loop before hydration runs.
			loop.Start(context.Background())

			go func() {
				worker, err := hydrator.Run(context.Background())
				if err != nil {
					logger.Error("hydration failed", zap.Error(err))
					facade.Post(appstate.InlineError{Scope: "startup", Message: err.Error()})
					return
				}
				client.BindWorker(worker)
				sender.BindWorker(worker)
				if cfg.AutoConnect {
					facade.Connect()
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			client.Disconnect()
			sender.Stop()
			thumbs.Stop()
			loop.Stop()
			if err := hydrator.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
