package worker

import (
	"context"
	"fmt"

	"github.com/closeness/sweeper/internal/models"
	"github.com/closeness/sweeper/internal/queue"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// CleanupProcessor handles queue.TypeCleanupRun tasks.
type CleanupProcessor struct {
	runner *Runner
	log    *zap.Logger
}

func NewCleanupProcessor(runner *Runner, log *zap.Logger) *CleanupProcessor {
	return &CleanupProcessor{runner: runner, log: log}
}

func (p *CleanupProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseCleanupRunPayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %w: %w", err, asynq.SkipRetry)
	}

	trigger := models.Trigger(payload.Trigger)
	if trigger == "" {
		trigger = models.TriggerSchedule
	}
	if id, ok := asynq.GetTaskID(ctx); ok {
		p.log.Debug("cleanup task started", zap.String("task_id", id), zap.String("trigger", string(trigger)))
	}

	if _, err := p.runner.Run(ctx, trigger); err != nil {
		// The next tick lists the same files again.
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return nil
}
