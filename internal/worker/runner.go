package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/closeness/sweeper/internal/models"
	"github.com/closeness/sweeper/internal/notifications"
	"go.uber.org/zap"
)

const (
	alertSource   = "cleanup"
	recordTimeout = 10 * time.Second
)

// Cycler runs a single reconciliation cycle.
type Cycler interface {
	RunCycle(ctx context.Context, trigger models.Trigger) (*models.CycleReport, error)
}

// Runner wraps a Cycler with the side effects every host wants: run history,
// metrics and alerts. Recorder, observer and notifier are optional.
type Runner struct {
	cycler   Cycler
	recorder RunRecorder
	observer CycleObserver
	notifier notifications.NotificationService
	log      *zap.Logger
}

func NewRunner(cycler Cycler, recorder RunRecorder, observer CycleObserver, notifier notifications.NotificationService, log *zap.Logger) *Runner {
	return &Runner{
		cycler:   cycler,
		recorder: recorder,
		observer: observer,
		notifier: notifier,
		log:      log,
	}
}

// Run executes one cycle and returns the cycle's own error. Failures of the
// side effects are logged and never change the result.
func (r *Runner) Run(ctx context.Context, trigger models.Trigger) (*models.CycleReport, error) {
	report, err := r.cycler.RunCycle(ctx, trigger)
	if report == nil {
		return nil, err
	}

	if r.observer != nil {
		r.observer.ObserveCycle(report)
	}

	// The cycle context may already be cancelled; the audit record still goes out.
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if r.recorder != nil && (report.BatchSize > 0 || err != nil) {
		if _, recErr := r.recorder.Record(sideCtx, report); recErr != nil {
			r.log.Error("record cleanup run", zap.String("run_id", report.RunID.String()), zap.Error(recErr))
		}
	}

	r.alert(sideCtx, report, err)
	return report, err
}

func (r *Runner) alert(ctx context.Context, report *models.CycleReport, err error) {
	if r.notifier == nil {
		return
	}

	var severity, msg string
	switch {
	case errors.Is(err, ErrListingUnavailable), errors.Is(err, ErrConfirmationUnavailable):
		severity = notifications.SeverityCritical
		msg = fmt.Sprintf("cleanup run %s failed: %v", report.RunID, err)
	case errors.Is(err, ErrCycleCancelled):
		severity = notifications.SeverityError
		msg = fmt.Sprintf("cleanup run %s cancelled after %d of %d files", report.RunID, report.Outcome.Total(), report.BatchSize)
	case err != nil:
		severity = notifications.SeverityError
		msg = fmt.Sprintf("cleanup run %s failed: %v", report.RunID, err)
	case len(report.Outcome.FailedIDs) > 0:
		severity = notifications.SeverityWarning
		msg = fmt.Sprintf("cleanup run %s: %d of %d files could not be deleted", report.RunID, len(report.Outcome.FailedIDs), report.BatchSize)
	default:
		return
	}

	if nErr := r.notifier.SendAlert(ctx, alertSource, severity, msg); nErr != nil {
		r.log.Warn("send cleanup alert", zap.Error(nErr))
	}
}
