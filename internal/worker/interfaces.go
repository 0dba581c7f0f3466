package worker

import (
	"context"

	"github.com/closeness/sweeper/internal/models"
)

// Interfaces for dependency injection to allow testing.

// PendingFileLister returns the batch of uploads the authority wants removed.
type PendingFileLister interface {
	ListPending(ctx context.Context) ([]models.PendingFile, error)
}

// OutcomeReporter tells the authority which ids were deleted and which failed.
type OutcomeReporter interface {
	ConfirmOutcome(ctx context.Context, outcome models.Outcome) error
}

// ObjectDeleter removes one object from storage. A missing object is
// reported as storage.ErrObjectNotFound.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// RunRecorder persists the audit record of a finished cycle.
type RunRecorder interface {
	Record(ctx context.Context, report *models.CycleReport) (*models.CycleRun, error)
}

// CycleObserver receives every finished cycle (metrics).
type CycleObserver interface {
	ObserveCycle(report *models.CycleReport)
}
