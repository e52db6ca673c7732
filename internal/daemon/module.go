package daemon

import (
	"context"

	"github.com/fbdash/fbdash/internal/backend"
	"github.com/fbdash/fbdash/internal/bus"
	"github.com/fbdash/fbdash/internal/channel"
	"github.com/fbdash/fbdash/internal/config"
	"github.com/fbdash/fbdash/internal/connectivity"
	"github.com/fbdash/fbdash/internal/controller"
	"github.com/fbdash/fbdash/internal/flush"
	"github.com/fbdash/fbdash/internal/gateway"
	"github.com/fbdash/fbdash/internal/lock"
	"github.com/fbdash/fbdash/internal/logging"
	"github.com/fbdash/fbdash/internal/notify"
	"github.com/fbdash/fbdash/internal/profile"
	"github.com/fbdash/fbdash/internal/status"
	"github.com/fbdash/fbdash/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
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
			provideStateMachine,
			provideLock,
			provideStore,
			provideQueue,
			provideBackend,
			provideChannel,
			provideMonitor,
			provideFlushAgent,
			provideNotifier,
			provideController,
			provideGateway,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideConfig(p Params) (*config.Profile, error) {
	return config.LoadProfile(profile.ProfileConfigPath(p.Profile))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore opens the durable store. Storage failure is not fatal: the
// daemon keeps running with a nil store and a memory-only queue, losing
// durability across restarts but nothing else.
func provideStore(p Params, logger *zap.Logger) *store.DB {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		logger.Warn("durable store unavailable, running memory-only",
			zap.String("path", dbPath), zap.Error(err))
		return nil
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		logger.Warn("store migration failed, running memory-only",
			zap.String("path", dbPath), zap.Error(err))
		return nil
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db
}

func provideQueue(db *store.DB, b *bus.Bus, logger *zap.Logger) store.Queue {
	if db == nil {
		logger.Warn("queued messages will not survive a restart")
		return store.NewMemoryQueue(b)
	}
	return store.NewQueue(db, b)
}

func provideBackend(cfg *config.Profile, logger *zap.Logger) *backend.Client {
	return backend.New(cfg.Backend.BaseURL, cfg.Backend.Device, logger)
}

func provideChannel(cfg *config.Profile, b *bus.Bus, m *status.Machine, db *store.DB, logger *zap.Logger) *channel.Channel {
	var cp channel.Checkpoints
	if db != nil {
		cp = db
	}
	return channel.New(cfg.Backend.SocketURL, cfg.Channel, b, m, cp, logger)
}

func provideMonitor(b *bus.Bus, m *status.Machine, ch *channel.Channel, client *backend.Client, logger *zap.Logger) *connectivity.Monitor {
	return connectivity.NewMonitor(b, m, ch, client, logger)
}

func provideFlushAgent(q store.Queue, client *backend.Client, b *bus.Bus, logger *zap.Logger) *flush.Agent {
	return flush.NewAgent(q, client, b, logger)
}

func provideNotifier(cfg *config.Profile, logger *zap.Logger) *notify.Dispatcher {
	d := notify.New(nil, nil, logger)
	if cfg.Notify.Muted {
		d.SetMuted(true)
	}
	return d
}

func provideController(client *backend.Client, q store.Queue, mon *connectivity.Monitor, n *notify.Dispatcher, db *store.DB, b *bus.Bus, logger *zap.Logger) *controller.Controller {
	var mirror controller.Mirror
	if db != nil {
		mirror = db
	}
	return controller.New(client, q, mon, n, mirror, b, logger)
}

func provideGateway(cfg *config.Profile, ctrl *controller.Controller, m *status.Machine, q store.Queue, client *backend.Client, agent *flush.Agent, b *bus.Bus, logger *zap.Logger) *gateway.Server {
	return gateway.New(cfg.Gateway.Listen, ctrl, m, q, client, agent, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *gateway.Server, lk *lock.Lock, ch *channel.Channel, mon *connectivity.Monitor, agent *flush.Agent, ctrl *controller.Controller, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Consumers subscribe before the channel starts producing.
			ctrl.Start(context.Background())
			agent.Start(context.Background())
			mon.Start(context.Background())
			ch.Start(context.Background())

			if err := srv.Start(); err != nil {
				logger.Error("gateway start failed", zap.Error(err))
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping gateway", zap.Error(err))
			}
			ch.Stop()
			mon.Stop()
			agent.Stop()
			ctrl.Stop()
			if db != nil {
				if err := db.Close(); err != nil {
					logger.Warn("error closing store", zap.Error(err))
				}
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
