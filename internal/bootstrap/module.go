package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"marketbot/internal/bootstrap/config"
	"marketbot/internal/bootstrap/database"
	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/infrastructure/browser"
	sqliterepo "marketbot/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "marketbot/internal/infrastructure/persistence/sqlite/uow"
	"marketbot/internal/infrastructure/reporting"
	"marketbot/internal/ports"
	"marketbot/internal/usecase/lifecycle"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewListingRepository,
			fx.As(new(ports.ListingRepository)),
		),
		fx.Annotate(
			sqliterepo.NewActionLogRepository,
			fx.As(new(ports.ActionLogRepository)),
		),
		fx.Annotate(
			sqliterepo.NewSettingsRepository,
			fx.As(new(ports.SettingsRepository)),
		),
		fx.Annotate(
			sqliterepo.NewRunRepository,
			fx.As(new(ports.RunRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			browser.NewDriver,
			fx.As(new(ports.Driver)),
		),
	),
	fx.Provide(provideEventHub),
	fx.Provide(provideReportingSink),
	fx.Provide(providePlaybook),
	fx.Provide(provideStore),
	fx.Provide(provideOrchestrator),
	fx.Provide(provideService),
	fx.Invoke(registerSchemaMigration),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB, hub *reporting.Hub) *App {
	return &App{
		Config: cfg,
		DB:     db,
		Events: hub,
	}
}

// registerSchemaMigration keeps the schema current on every start; AutoMigrate
// only adds what is missing.
func registerSchemaMigration(lc fx.Lifecycle, app *App) {
	lc.Append(fx.Hook{
		OnStart: app.InitSchema,
	})
}

func provideEventHub(lc fx.Lifecycle, cfg config.Config) *reporting.Hub {
	hub := reporting.NewHub(cfg.Server.EventBuffer)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			hub.Close()
			return nil
		},
	})
	return hub
}

// provideReportingSink fans out to the live event hub and every configured
// dashboard transport behind one async dispatcher.
func provideReportingSink(lc fx.Lifecycle, ctx context.Context, cfg config.Config, hub *reporting.Hub) (ports.ReportingSink, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.reporting"))
	rc := cfg.Reporting

	sinks := []ports.ReportingSink{hub}
	if url := strings.TrimSpace(rc.URL); url != "" {
		sinks = append(sinks, reporting.NewHTTPSink(url, rc.Timeout))
	}

	var closers []func() error
	if redisURL := strings.TrimSpace(rc.Redis.URL); redisURL != "" {
		client, err := reporting.NewRedisClient(redisURL)
		if err != nil {
			return nil, err
		}
		redisSink := reporting.NewRedisSink(client, reporting.RedisConfig{
			Key:     rc.Redis.Key,
			Mode:    rc.Redis.Mode,
			MaxLen:  rc.Redis.MaxLen,
			Timeout: rc.Timeout,
		})
		sinks = append(sinks, redisSink)
		closers = append(closers, redisSink.Close)
	}
	if natsURL := strings.TrimSpace(rc.NATS.URL); natsURL != "" {
		conn, err := reporting.NewNATSConn(natsURL, rc.Timeout)
		if err != nil {
			return nil, err
		}
		natsSink := reporting.NewNATSSink(conn, rc.NATS.Subject)
		sinks = append(sinks, natsSink)
		closers = append(closers, natsSink.Close)
	}

	fanout := reporting.NewFanoutSink(sinks...)
	dispatcher := reporting.NewDispatcher(fanout, rc.QueueSize, rc.Timeout)
	lc.Append(fx.Hook{
		OnStop: func(stopCtx context.Context) error {
			drainCtx := stopCtx
			if rc.DrainTimeout > 0 {
				var cancel context.CancelFunc
				drainCtx, cancel = context.WithTimeout(stopCtx, rc.DrainTimeout)
				defer cancel()
			}
			if err := dispatcher.Close(drainCtx); err != nil {
				logging.Warn(logCtx, "reporting queue not fully drained", slog.Any("err", errs.Loggable(err)))
			}
			var closeErr error
			for _, closeSink := range closers {
				closeErr = errors.Join(closeErr, closeSink())
			}
			return closeErr
		},
	})

	logging.Info(logCtx, "reporting enabled", slog.Int("transports", fanout.Len()-1))
	return dispatcher, nil
}

func providePlaybook(cfg config.Config) (lifecycle.Playbook, error) {
	return lifecycle.LoadPlaybook(cfg.Marketplace.Playbook)
}

type storeParams struct {
	fx.In

	Listings   ports.ListingRepository
	Logs       ports.ActionLogRepository
	Runs       ports.RunRepository
	Settings   ports.SettingsRepository
	UnitOfWork ports.UnitOfWork
}

func provideStore(p storeParams) lifecycle.Store {
	return lifecycle.Store{
		Listings:   p.Listings,
		Logs:       p.Logs,
		Runs:       p.Runs,
		Settings:   p.Settings,
		UnitOfWork: p.UnitOfWork,
	}
}

func provideOrchestrator(driver ports.Driver, store lifecycle.Store, sink ports.ReportingSink, playbook lifecycle.Playbook) (*lifecycle.Orchestrator, error) {
	return lifecycle.NewOrchestrator(driver, store, sink, lifecycle.Options{Playbook: playbook})
}

func provideService(orchestrator *lifecycle.Orchestrator, store lifecycle.Store, cfg config.Config) *lifecycle.Service {
	return lifecycle.NewService(orchestrator, store, lifecycle.RunDefaults{
		Email:    cfg.Credential.Email,
		Password: cfg.Credential.Password,
		Driver: ports.DriverConfig{
			Headless:      cfg.Browser.Headless,
			ExecPath:      cfg.Browser.ExecPath,
			UserDataDir:   cfg.Browser.UserDataDir,
			WindowWidth:   cfg.Browser.WindowWidth,
			WindowHeight:  cfg.Browser.WindowHeight,
			ActionTimeout: cfg.Browser.ActionTimeout,
		},
		MaxConsecutiveFailures: cfg.Run.MaxConsecutiveFailures,
	})
}
