package main

import (
	"context"

	"github.com/closeness/sweeper/internal/api/handlers"
	"github.com/closeness/sweeper/internal/authority"
	"github.com/closeness/sweeper/internal/config"
	"github.com/closeness/sweeper/internal/db"
	"github.com/closeness/sweeper/internal/metrics"
	"github.com/closeness/sweeper/internal/notifications"
	"github.com/closeness/sweeper/internal/storage"
	"github.com/closeness/sweeper/internal/worker"
	"github.com/closeness/sweeper/pkg/logger"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds everything a worker command needs.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	database *db.DB // nil when run history is disabled
	metrics  *metrics.Cycle
	runner   *worker.Runner
	redis    *redis.Client
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}

	log := logger.Must(cfg.App.Env)
	a := &app{cfg: cfg, log: log, metrics: metrics.NewCycle()}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := authority.NewClient(cfg.Authority)
	reconciler := worker.NewReconciler(client, client, store, cfg.Storage, log)

	var recorder worker.RunRecorder
	if cfg.Database.DSN != "" {
		a.database, err = db.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := a.database.EnsureSchema(ctx); err != nil {
			a.database.Close()
			return nil, err
		}
		recorder = a.database.Runs
	} else {
		log.Info("database.dsn not set, run history disabled")
	}

	notifier := notifications.Multi{notifications.NewConsoleNotifier(log)}
	if cfg.Notifications.SlackWebhookURL != "" {
		notifier = append(notifier, notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL))
	}

	a.runner = worker.NewRunner(reconciler, recorder, a.metrics, notifier, log)
	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	log.Info("worker configured",
		zap.Strings("backends", cfg.Storage.Backends),
		zap.String("provider", store.Provider()),
		zap.String("authority", cfg.Authority.BaseURL),
	)
	return a, nil
}

func (a *app) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	}
}

// httpServer serves /health and /metrics. Redis is probed only when the
// command depends on it.
func (a *app) httpServer(probeRedis bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	var probes []handlers.Probe
	if probeRedis {
		probes = append(probes, handlers.Probe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
		})
	}
	if a.database != nil {
		probes = append(probes, handlers.Probe{Name: "postgres", Check: a.database.Ping})
	}
	e.GET("/health", handlers.Health(a.cfg.App.Version, probes...))
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))
	return e
}

func (a *app) Close() {
	if a.database != nil {
		a.database.Close()
	}
	if err := a.redis.Close(); err != nil {
		a.log.Warn("close redis", zap.Error(err))
	}
	_ = a.log.Sync()
}

