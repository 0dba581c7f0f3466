package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/closeness/sweeper/internal/api/handlers"
	apimw "github.com/closeness/sweeper/internal/api/middleware"
	"github.com/closeness/sweeper/internal/api/routes"
	"github.com/closeness/sweeper/internal/auth"
	"github.com/closeness/sweeper/internal/config"
	"github.com/closeness/sweeper/internal/db"
	"github.com/closeness/sweeper/internal/kms"
	"github.com/closeness/sweeper/internal/queue"
	"github.com/closeness/sweeper/pkg/logger"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "api",
		Usage: "Operator API for cleanup run history and on-demand runs",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server",
				Action: serve,
			},
			{
				Name:   "keygen",
				Usage:  "Generate an operator API key and the bcrypt hash to configure",
				Action: keygen,
			},
			{
				Name:  "token",
				Usage: "Issue a dashboard JWT for an operator",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "operator", Usage: "Operator name", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime (overrides jwt.expiration)"},
				},
				Action: token,
			},
			{
				Name:   "kms-key",
				Usage:  "Generate a new AES-256 master key for kms.key",
				Action: kmsKey,
			},
			{
				Name:      "seal",
				Usage:     "Encrypt a secret with kms.key for use as an enc: config value",
				ArgsUsage: "<secret>",
				Action:    seal,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateAPI(); err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return cli.Exit("database.dsn is required for the operator API", 1)
	}

	zl := logger.Must(cfg.App.Env)
	defer func() { _ = zl.Sync() }()

	// 1. Init DB
	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.EnsureSchema(ctx); err != nil {
		return err
	}

	// 2. Init Queue client (for on-demand runs)
	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer queueClient.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// 3. Init Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(apimw.RequestID())
	e.Use(apimw.SecurityHeaders())
	e.Use(apimw.AccessLog(zl))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderAccept},
		MaxAge:       3600,
	}))
	e.Use(echomw.GzipWithConfig(echomw.GzipConfig{Level: 5}))
	// 20 req/s per IP, burst of 40
	e.Use(apimw.RateLimit(20, 40, apimw.ByIP))

	// 4. Register Routes
	enqueuer := queue.NewEnqueuer(queueClient, cfg.Worker.UniqueTTL, cfg.Worker.CycleTimeout)
	h := handlers.NewHandlers(database.Runs, enqueuer, zl)
	routes.Register(e, h, routes.Options{
		APIKeyHash:   cfg.Operator.APIKeyHash,
		JWTSecret:    cfg.JWT.Secret,
		TriggerRPS:   cfg.Operator.TriggerRPS,
		TriggerBurst: cfg.Operator.TriggerBurst,
	})

	e.GET("/health", handlers.Health(cfg.App.Version,
		handlers.Probe{Name: "postgres", Check: database.Ping},
		handlers.Probe{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	))

	// 5. Start Server
	errCh := make(chan error, 1)
	go func() {
		port := strconv.Itoa(cfg.App.Port)
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 6. Graceful Shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	}

	zl.Info("shutting down server")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func keygen(*cli.Context) error {
	plaintext, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	fmt.Printf("api key (shown once): %s\n", plaintext)
	fmt.Printf("key prefix:           %s\n", prefix)
	fmt.Printf("SWEEPER_OPERATOR_API_KEY_HASH='%s'\n", hash)
	return nil
}

func token(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ttl := cfg.JWT.Expiration
	if d := c.Duration("ttl"); d > 0 {
		ttl = d
	}
	tok, err := auth.IssueJWT(cfg.JWT.Secret, c.String("operator"), ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func seal(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: api seal <secret>", 2)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.KMS.Key == "" {
		return cli.Exit("kms.key is required (SWEEPER_KMS_KEY); generate one with `api kms-key`", 1)
	}
	enc, err := kms.New(cfg.KMS.Key)
	if err != nil {
		return err
	}
	sealed, err := enc.Encrypt(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Println("enc:" + sealed)
	return nil
}

func kmsKey(*cli.Context) error {
	key, err := kms.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Printf("SWEEPER_KMS_KEY=%s\n", key)
	return nil
}
