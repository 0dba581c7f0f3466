package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCleanupRunTask_RoundTrip(t *testing.T) {
	task, err := NewCleanupRunTask(CleanupRunPayload{Trigger: "schedule"}, 5*time.Minute, 4*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TypeCleanupRun, task.Type())

	p, err := ParseCleanupRunPayload(task)
	require.NoError(t, err)
	assert.Equal(t, "schedule", p.Trigger)
}

func TestCleanupRunTask_ScheduledPayloadIsStable(t *testing.T) {
	a, err := NewCleanupRunTask(CleanupRunPayload{Trigger: "schedule"}, time.Minute, 0)
	require.NoError(t, err)
	b, err := NewCleanupRunTask(CleanupRunPayload{Trigger: "schedule"}, time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, a.Payload(), b.Payload())
}

func TestParseCleanupRunPayload_Invalid(t *testing.T) {
	_, err := ParseCleanupRunPayload(asynq.NewTask(TypeCleanupRun, []byte("{")))
	assert.Error(t, err)
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

func TestEnqueuer_EnqueueCleanup(t *testing.T) {
	client := new(mockClient)
	client.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		p, err := ParseCleanupRunPayload(task)
		return err == nil && p.Trigger == "manual"
	})).Return(&asynq.TaskInfo{ID: "task-1"}, nil)

	id, err := NewEnqueuer(client, time.Minute, time.Minute).EnqueueCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	client.AssertExpectations(t)
}

func TestEnqueuer_Duplicate(t *testing.T) {
	client := new(mockClient)
	client.On("EnqueueContext", mock.Anything, mock.Anything).Return(nil, asynq.ErrDuplicateTask)

	_, err := NewEnqueuer(client, time.Minute, time.Minute).EnqueueCleanup(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestEnqueuer_RedisDown(t *testing.T) {
	client := new(mockClient)
	client.On("EnqueueContext", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: refused"))

	_, err := NewEnqueuer(client, time.Minute, time.Minute).EnqueueCleanup(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyQueued)
	assert.Contains(t, err.Error(), "refused")
}

func TestEnqueuer_ManualPayloadIsStable(t *testing.T) {
	var payloads [][]byte
	client := new(mockClient)
	client.On("EnqueueContext", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			payloads = append(payloads, args.Get(1).(*asynq.Task).Payload())
		}).
		Return(&asynq.TaskInfo{ID: "task-1"}, nil)

	enq := NewEnqueuer(client, time.Minute, time.Minute)
	for i := 0; i < 2; i++ {
		_, err := enq.EnqueueCleanup(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, payloads, 2)
	assert.Equal(t, payloads[0], payloads[1], "manual requests must share one unique key")
}
