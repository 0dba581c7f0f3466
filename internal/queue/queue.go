package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeCleanupRun = "cleanup:run"

	QueueDefault = "default"
)

// CleanupRunPayload is the task payload for TypeCleanupRun. asynq.Unique keys
// on the payload, so it carries nothing but the trigger: every scheduled tick
// collapses into one queued cycle and so does every manual request.
type CleanupRunPayload struct {
	Trigger string `json:"trigger"`
}

// NewCleanupRunTask builds a cleanup task. A failed cycle is never retried by
// asynq: the next scheduled tick is the retry.
func NewCleanupRunTask(p CleanupRunPayload, uniqueTTL, timeout time.Duration) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal CleanupRun: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
	}
	if uniqueTTL > 0 {
		opts = append(opts, asynq.Unique(uniqueTTL))
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TypeCleanupRun, b, opts...), nil
}

func ParseCleanupRunPayload(t *asynq.Task) (CleanupRunPayload, error) {
	var p CleanupRunPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("queue: unmarshal CleanupRun: %w", err)
	}
	return p, nil
}
