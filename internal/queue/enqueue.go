package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued is returned when an identical cleanup task is still
// pending or running.
var ErrAlreadyQueued = errors.New("queue: cleanup already queued")

// TaskEnqueuer is the subset of *asynq.Client the Enqueuer needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer submits on-demand cleanup cycles.
type Enqueuer struct {
	client    TaskEnqueuer
	uniqueTTL time.Duration
	timeout   time.Duration
}

func NewEnqueuer(client TaskEnqueuer, uniqueTTL, timeout time.Duration) *Enqueuer {
	return &Enqueuer{client: client, uniqueTTL: uniqueTTL, timeout: timeout}
}

// EnqueueCleanup queues one manual cycle and returns the asynq task id. It
// returns ErrAlreadyQueued while another manual cycle is pending or running,
// whoever asked for it.
func (e *Enqueuer) EnqueueCleanup(ctx context.Context) (string, error) {
	task, err := NewCleanupRunTask(CleanupRunPayload{Trigger: "manual"}, e.uniqueTTL, e.timeout)
	if err != nil {
		return "", err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", ErrAlreadyQueued
		}
		return "", fmt.Errorf("queue: enqueue cleanup: %w", err)
	}
	return info.ID, nil
}
