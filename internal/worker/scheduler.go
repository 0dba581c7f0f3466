package worker

import (
	"context"
	"time"

	"github.com/closeness/sweeper/internal/models"
	"go.uber.org/zap"
)

// Scheduler runs cycles in-process on a fixed interval. Cycles never overlap:
// a tick that arrives while a cycle is running is dropped by the ticker.
type Scheduler struct {
	runner   *Runner
	log      *zap.Logger
	interval time.Duration
	timeout  time.Duration
}

func NewScheduler(runner *Runner, log *zap.Logger, interval, timeout time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		log:      log,
		interval: interval,
		timeout:  timeout,
	}
}

// Run blocks until ctx is done. The first cycle starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cycleCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.runner.Run(cycleCtx, models.TriggerTicker); err != nil {
		s.log.Warn("scheduler: cycle failed, retrying next tick", zap.Duration("interval", s.interval), zap.Error(err))
	}
}
