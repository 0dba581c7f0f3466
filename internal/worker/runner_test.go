package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/closeness/sweeper/internal/models"
	"github.com/closeness/sweeper/internal/notifications"
	"github.com/closeness/sweeper/internal/queue"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockCycler struct {
	mock.Mock
}

func (m *MockCycler) RunCycle(ctx context.Context, trigger models.Trigger) (*models.CycleReport, error) {
	args := m.Called(ctx, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CycleReport), args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, report *models.CycleReport) (*models.CycleRun, error) {
	args := m.Called(ctx, report)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CycleRun), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendAlert(ctx context.Context, source, severity, message string) error {
	args := m.Called(ctx, source, severity, message)
	return args.Error(0)
}

type countingObserver struct {
	reports []*models.CycleReport
}

func (o *countingObserver) ObserveCycle(r *models.CycleReport) { o.reports = append(o.reports, r) }

func doneReport(deleted, failed []string) *models.CycleReport {
	return &models.CycleReport{
		RunID:      uuid.New(),
		State:      models.CycleStateDone,
		BatchSize:  len(deleted) + len(failed),
		Outcome:    models.Outcome{DeletedIDs: deleted, FailedIDs: failed},
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
}

func TestRunner_CleanCycle(t *testing.T) {
	cycler := new(MockCycler)
	recorder := new(MockRecorder)
	notifier := new(MockNotifier)
	obs := &countingObserver{}

	report := doneReport([]string{"a"}, []string{})
	cycler.On("RunCycle", mock.Anything, models.TriggerOnce).Return(report, nil).Once()
	recorder.On("Record", mock.Anything, report).Return(&models.CycleRun{}, nil).Once()

	got, err := NewRunner(cycler, recorder, obs, notifier, zap.NewNop()).Run(context.Background(), models.TriggerOnce)

	require.NoError(t, err)
	assert.Same(t, report, got)
	assert.Len(t, obs.reports, 1)
	recorder.AssertExpectations(t)
	notifier.AssertNotCalled(t, "SendAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_EmptyCycleNotRecorded(t *testing.T) {
	cycler := new(MockCycler)
	recorder := new(MockRecorder)

	cycler.On("RunCycle", mock.Anything, models.TriggerTicker).Return(doneReport(nil, nil), nil).Once()

	_, err := NewRunner(cycler, recorder, nil, nil, zap.NewNop()).Run(context.Background(), models.TriggerTicker)

	require.NoError(t, err)
	recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestRunner_PartialFailureWarns(t *testing.T) {
	cycler := new(MockCycler)
	notifier := new(MockNotifier)

	cycler.On("RunCycle", mock.Anything, mock.Anything).Return(doneReport([]string{"a"}, []string{"b"}), nil).Once()
	notifier.On("SendAlert", mock.Anything, "cleanup", notifications.SeverityWarning, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "1 of 2 files")
	})).Return(nil).Once()

	_, err := NewRunner(cycler, nil, nil, notifier, zap.NewNop()).Run(context.Background(), models.TriggerOnce)

	require.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestRunner_FatalErrorsAlertAndRecord(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		severity string
	}{
		{name: "listing", err: ErrListingUnavailable, severity: notifications.SeverityCritical},
		{name: "confirmation", err: ErrConfirmationUnavailable, severity: notifications.SeverityCritical},
		{name: "cancelled", err: ErrCycleCancelled, severity: notifications.SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycler := new(MockCycler)
			recorder := new(MockRecorder)
			notifier := new(MockNotifier)

			report := &models.CycleReport{RunID: uuid.New(), State: models.CycleStateFailed, Err: tt.err}
			cycler.On("RunCycle", mock.Anything, mock.Anything).Return(report, tt.err).Once()
			recorder.On("Record", mock.Anything, report).Return(nil, errors.New("db down")).Once()
			notifier.On("SendAlert", mock.Anything, "cleanup", tt.severity, mock.Anything).Return(nil).Once()

			_, err := NewRunner(cycler, recorder, nil, notifier, zap.NewNop()).Run(context.Background(), models.TriggerSchedule)

			assert.ErrorIs(t, err, tt.err)
			recorder.AssertExpectations(t)
			notifier.AssertExpectations(t)
		})
	}
}

func TestRunner_RecordsAfterCancellation(t *testing.T) {
	cycler := new(MockCycler)
	recorder := new(MockRecorder)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := &models.CycleReport{RunID: uuid.New(), State: models.CycleStateFailed, BatchSize: 2, Err: ErrCycleCancelled}
	cycler.On("RunCycle", mock.Anything, mock.Anything).Return(report, ErrCycleCancelled).Once()
	recorder.On("Record", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), report).
		Return(&models.CycleRun{}, nil).Once()

	_, err := NewRunner(cycler, recorder, nil, nil, zap.NewNop()).Run(ctx, models.TriggerTicker)

	assert.ErrorIs(t, err, ErrCycleCancelled)
	recorder.AssertExpectations(t)
}

func TestCleanupProcessor_ProcessTask(t *testing.T) {
	cycler := new(MockCycler)
	cycler.On("RunCycle", mock.Anything, models.TriggerManual).Return(doneReport([]string{"a"}, nil), nil).Once()

	task, err := queue.NewCleanupRunTask(queue.CleanupRunPayload{Trigger: "manual"}, time.Minute, time.Minute)
	require.NoError(t, err)

	p := NewCleanupProcessor(NewRunner(cycler, nil, nil, nil, zap.NewNop()), zap.NewNop())
	assert.NoError(t, p.ProcessTask(context.Background(), task))
	cycler.AssertExpectations(t)
}

func TestCleanupProcessor_DefaultsToSchedule(t *testing.T) {
	cycler := new(MockCycler)
	cycler.On("RunCycle", mock.Anything, models.TriggerSchedule).Return(doneReport(nil, nil), nil).Once()

	p := NewCleanupProcessor(NewRunner(cycler, nil, nil, nil, zap.NewNop()), zap.NewNop())
	assert.NoError(t, p.ProcessTask(context.Background(), asynq.NewTask(queue.TypeCleanupRun, []byte(`{}`))))
	cycler.AssertExpectations(t)
}

func TestCleanupProcessor_FailureSkipsRetry(t *testing.T) {
	cycler := new(MockCycler)
	report := &models.CycleReport{RunID: uuid.New(), State: models.CycleStateFailed}
	cycler.On("RunCycle", mock.Anything, mock.Anything).Return(report, ErrListingUnavailable).Once()

	p := NewCleanupProcessor(NewRunner(cycler, nil, nil, nil, zap.NewNop()), zap.NewNop())
	err := p.ProcessTask(context.Background(), asynq.NewTask(queue.TypeCleanupRun, []byte(`{"trigger":"schedule"}`)))

	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, ErrListingUnavailable)
}

func TestCleanupProcessor_BadPayload(t *testing.T) {
	p := NewCleanupProcessor(NewRunner(new(MockCycler), nil, nil, nil, zap.NewNop()), zap.NewNop())
	err := p.ProcessTask(context.Background(), asynq.NewTask(queue.TypeCleanupRun, []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestScheduler_RunsImmediatelyAndStops(t *testing.T) {
	cycler := new(MockCycler)
	ctx, cancel := context.WithCancel(context.Background())

	cycler.On("RunCycle", mock.MatchedBy(func(c context.Context) bool {
		_, hasDeadline := c.Deadline()
		return hasDeadline
	}), models.TriggerTicker).
		Run(func(mock.Arguments) { cancel() }).
		Return(doneReport(nil, nil), nil).Once()

	s := NewScheduler(NewRunner(cycler, nil, nil, nil, zap.NewNop()), zap.NewNop(), time.Hour, time.Minute)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	cycler.AssertExpectations(t)
}
