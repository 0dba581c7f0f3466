package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/closeness/sweeper/internal/config"
	"github.com/closeness/sweeper/internal/models"
	"github.com/closeness/sweeper/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Reconciler runs cleanup cycles: list pending files, delete each from
// storage in batch order, confirm the outcome once.
type Reconciler struct {
	lister   PendingFileLister
	reporter OutcomeReporter
	deleter  ObjectDeleter
	log      *zap.Logger
	limiter  *rate.Limiter
	now      func() time.Time
}

func NewReconciler(lister PendingFileLister, reporter OutcomeReporter, deleter ObjectDeleter, storageCfg config.StorageConfig, log *zap.Logger) *Reconciler {
	var limiter *rate.Limiter
	if storageCfg.DeleteRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(storageCfg.DeleteRPS), 1)
	}
	return &Reconciler{
		lister:   lister,
		reporter: reporter,
		deleter:  deleter,
		log:      log,
		limiter:  limiter,
		now:      time.Now,
	}
}

// RunCycle executes one cycle. The returned report is never nil; on a fatal
// error its State is CycleStateFailed and the error wraps one of
// ErrListingUnavailable, ErrConfirmationUnavailable or ErrCycleCancelled.
func (r *Reconciler) RunCycle(ctx context.Context, trigger models.Trigger) (*models.CycleReport, error) {
	report := &models.CycleReport{
		RunID:     uuid.New(),
		Trigger:   trigger,
		State:     models.CycleStateIdle,
		StartedAt: r.now().UTC(),
	}
	log := r.log.With(zap.String("run_id", report.RunID.String()), zap.String("trigger", string(trigger)))

	// 1. List pending
	report.State = models.CycleStateListing
	files, err := r.lister.ListPending(ctx)
	if err != nil {
		return r.fail(log, report, fmt.Errorf("%w: %w", ErrListingUnavailable, err))
	}
	report.BatchSize = len(files)
	report.Outcome = models.NewOutcome(len(files))

	if len(files) == 0 {
		report.State = models.CycleStateDone
		report.FinishedAt = r.now().UTC()
		log.Debug("no pending files")
		return report, nil
	}
	log.Info("pending files listed", zap.Int("count", len(files)))

	// 2. Delete, one at a time in batch order
	report.State = models.CycleStateDeleting
	for _, f := range files {
		if err := r.wait(ctx); err != nil {
			return r.fail(log, report, fmt.Errorf("%w: %w", ErrCycleCancelled, err))
		}
		r.deleteOne(ctx, log, report, f)
	}

	if err := ctx.Err(); err != nil {
		return r.fail(log, report, fmt.Errorf("%w: %w", ErrCycleCancelled, err))
	}

	// 3. Confirm
	report.State = models.CycleStateConfirming
	if err := r.reporter.ConfirmOutcome(ctx, report.Outcome); err != nil {
		return r.fail(log, report, fmt.Errorf("%w: %w", ErrConfirmationUnavailable, err))
	}

	report.State = models.CycleStateDone
	report.FinishedAt = r.now().UTC()
	log.Info("cleanup cycle complete",
		zap.Int("deleted", len(report.Outcome.DeletedIDs)),
		zap.Int("failed", len(report.Outcome.FailedIDs)),
		zap.Int("already_absent", report.Absent),
		zap.Duration("duration", report.Duration()),
	)
	return report, nil
}

// deleteOne classifies exactly one file into DeletedIDs or FailedIDs.
func (r *Reconciler) deleteOne(ctx context.Context, log *zap.Logger, report *models.CycleReport, f models.PendingFile) {
	err := r.deleter.DeleteObject(ctx, f.StorageKey)
	switch {
	case err == nil:
		report.Outcome.DeletedIDs = append(report.Outcome.DeletedIDs, f.ID)
		log.Info("deleted", zap.String("file_id", f.ID), zap.String("storage_key", f.StorageKey))

	case errors.Is(err, storage.ErrObjectNotFound):
		report.Outcome.DeletedIDs = append(report.Outcome.DeletedIDs, f.ID)
		report.Absent++
		log.Info("already absent", zap.String("file_id", f.ID), zap.String("storage_key", f.StorageKey))

	default:
		report.Outcome.FailedIDs = append(report.Outcome.FailedIDs, f.ID)
		fields := []zap.Field{
			zap.String("file_id", f.ID),
			zap.String("storage_key", f.StorageKey),
			zap.String("marked_at", string(f.MarkedAt)),
			zap.Error(err),
		}
		var rl *storage.RateLimitError
		if errors.As(err, &rl) {
			fields = append(fields, zap.Duration("retry_after", rl.RetryAfter))
		}
		log.Error("failed to delete object", fields...)
	}
}

// wait applies delete throttling and notices host cancellation between files.
func (r *Reconciler) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func (r *Reconciler) fail(log *zap.Logger, report *models.CycleReport, err error) (*models.CycleReport, error) {
	log.Error("cleanup cycle failed",
		zap.String("during", string(report.State)),
		zap.Int("deleted", len(report.Outcome.DeletedIDs)),
		zap.Int("failed", len(report.Outcome.FailedIDs)),
		zap.Error(err),
	)
	report.State = models.CycleStateFailed
	report.FinishedAt = r.now().UTC()
	report.Err = err
	return report, err
}
