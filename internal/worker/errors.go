package worker

import "errors"

// Cycle-level failures. Per-object delete failures never surface as errors;
// they end up in Outcome.FailedIDs.
var (
	// ErrListingUnavailable means the authority could not return the batch.
	// Nothing was deleted.
	ErrListingUnavailable = errors.New("worker: pending listing unavailable")

	// ErrConfirmationUnavailable means deletions ran but the authority did not
	// accept the outcome. The next listing re-surfaces the same files.
	ErrConfirmationUnavailable = errors.New("worker: outcome confirmation unavailable")

	// ErrCycleCancelled means the host's context ended mid-cycle. No
	// confirmation was sent.
	ErrCycleCancelled = errors.New("worker: cycle cancelled")
)
