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

	"github.com/closeness/sweeper/internal/models"
	"github.com/closeness/sweeper/internal/queue"
	"github.com/closeness/sweeper/internal/worker"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "worker",
		Usage: "Delete expired uploads from storage and confirm them with the application API",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the asynq worker and cron scheduler with a health/metrics listener",
				Action: serve,
			},
			{
				Name:   "once",
				Usage:  "Run a single cleanup cycle and exit (non-zero on failure)",
				Action: once,
			},
			{
				Name:  "loop",
				Usage: "Run cleanup cycles on an in-process ticker",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "interval",
						Usage:   "Time between cycles (overrides worker.interval)",
						EnvVars: []string{"SWEEPER_LOOP_INTERVAL"},
					},
				},
				Action: loop,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func once(c *cli.Context) error {
	ctx, stop := signalContext(c.Context)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cycleCtx, cancel := context.WithTimeout(ctx, a.cfg.Worker.CycleTimeout)
	defer cancel()

	report, err := a.runner.Run(cycleCtx, models.TriggerOnce)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cleanup failed: %v", err), 1)
	}
	fmt.Printf("run %s: %d deleted (%d already absent), %d failed in %s\n",
		report.RunID, len(report.Outcome.DeletedIDs), report.Absent, len(report.Outcome.FailedIDs), report.Duration())
	return nil
}

func loop(c *cli.Context) error {
	ctx, stop := signalContext(c.Context)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	interval := a.cfg.Worker.Interval
	if d := c.Duration("interval"); d > 0 {
		interval = d
	}
	if interval <= 0 {
		return cli.Exit("worker.interval must be positive", 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.NewScheduler(a.runner, a.log, interval, a.cfg.Worker.CycleTimeout).Run(gctx)
		return nil
	})
	serveHTTP(gctx, g, a, a.httpServer(false))

	a.log.Info("cleanup loop started", zap.Duration("interval", interval))
	return g.Wait()
}

func serve(c *cli.Context) error {
	ctx, stop := signalContext(c.Context)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	redisOpt := a.redisOpt()

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     a.cfg.Worker.Concurrency,
		Queues:          map[string]int{queue.QueueDefault: 1},
		Logger:          a.log.Sugar(),
		ShutdownTimeout: a.cfg.Worker.CycleTimeout,
	})

	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeCleanupRun, worker.NewCleanupProcessor(a.runner, a.log))

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   a.log.Sugar(),
		Location: time.UTC,
	})
	task, err := queue.NewCleanupRunTask(queue.CleanupRunPayload{Trigger: string(models.TriggerSchedule)},
		a.cfg.Worker.UniqueTTL, a.cfg.Worker.CycleTimeout)
	if err != nil {
		return err
	}
	entryID, err := scheduler.Register(a.cfg.Worker.Schedule, task)
	if err != nil {
		return fmt.Errorf("register schedule %q: %w", a.cfg.Worker.Schedule, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(mux); err != nil {
			return fmt.Errorf("asynq server: %w", err)
		}
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	g.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("asynq scheduler: %w", err)
		}
		<-gctx.Done()
		scheduler.Shutdown()
		return nil
	})
	serveHTTP(gctx, g, a, a.httpServer(true))

	a.log.Info("cleanup worker started",
		zap.String("schedule", a.cfg.Worker.Schedule),
		zap.String("entry_id", entryID),
		zap.Int("metrics_port", a.cfg.Worker.MetricsPort),
	)
	return g.Wait()
}

// serveHTTP runs e until ctx is done. A zero metrics port disables the listener.
func serveHTTP(ctx context.Context, g *errgroup.Group, a *app, e *echo.Echo) {
	if a.cfg.Worker.MetricsPort == 0 {
		return
	}
	addr := ":" + strconv.Itoa(a.cfg.Worker.MetricsPort)
	g.Go(func() error {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
}
