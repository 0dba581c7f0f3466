package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/closeness/sweeper/internal/models"
	"github.com/closeness/sweeper/pkg/worm"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRunNotFound is returned by Get for an unknown run id.
var ErrRunNotFound = errors.New("db: run not found")

// chainLockKey serialises chain appends across worker processes.
const chainLockKey int64 = 0x5377656570 // "Sweep"

const runColumns = `seq,id,trigger,state,batch_size,deleted_ids,failed_ids,err_msg,
	outcome_digest,chain_hash,started_at,finished_at,created_at`

// ── RunRepository ─────────────────────────────────────────────────────────────

type RunRepository struct{ db *pgxpool.Pool }

func NewRunRepository(db *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: db}
}

// Record appends a finished cycle to the run history and links it into the
// hash chain.
func (r *RunRepository) Record(ctx context.Context, report *models.CycleReport) (*models.CycleRun, error) {
	run := models.RunFromReport(report)
	if err := r.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Digest is the outcome digest stored with run. It covers the state, the
// error message and both id lists.
func Digest(run *models.CycleRun) string {
	return worm.OutcomeDigest(worm.Outcome{
		State:      string(run.State),
		ErrMsg:     run.ErrMsg,
		DeletedIDs: run.DeletedIDs,
		FailedIDs:  run.FailedIDs,
	})
}

// Create computes the run's digest and chain hash and inserts it.
func (r *RunRepository) Create(ctx context.Context, run *models.CycleRun) error {
	run.OutcomeDigest = Digest(run)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("run create: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return fmt.Errorf("run create: lock chain: %w", err)
	}

	prev := worm.GenesisHash
	err = tx.QueryRow(ctx, `SELECT chain_hash FROM cleanup_runs ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("run create: chain head: %w", err)
	}
	run.ChainHash = worm.ChainHash(prev, run.OutcomeDigest, run.ID.String())

	const q = `INSERT INTO cleanup_runs
		(id,trigger,state,batch_size,deleted_ids,failed_ids,err_msg,outcome_digest,chain_hash,started_at,finished_at,created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		RETURNING seq,created_at`
	err = tx.QueryRow(ctx, q,
		run.ID, run.Trigger, run.State, run.BatchSize, run.DeletedIDs, run.FailedIDs, run.ErrMsg,
		run.OutcomeDigest, run.ChainHash, run.StartedAt, run.FinishedAt,
	).Scan(&run.Seq, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("run create: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("run create: commit: %w", err)
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*models.CycleRun, error) {
	q := `SELECT ` + runColumns + ` FROM cleanup_runs WHERE id=$1`
	run, err := scanRun(r.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("run get: %w", err)
	}
	return run, nil
}

// ListRecent returns runs newest first.
func (r *RunRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.CycleRun, error) {
	q := `SELECT ` + runColumns + ` FROM cleanup_runs ORDER BY seq DESC LIMIT $1 OFFSET $2`
	return r.scanRuns(ctx, q, limit, offset)
}

// WalkChain streams every run oldest first.
func (r *RunRepository) WalkChain(ctx context.Context, fn func(*models.CycleRun) error) error {
	rows, err := r.db.Query(ctx, `SELECT `+runColumns+` FROM cleanup_runs ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("run walk: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return fmt.Errorf("run walk: scan: %w", err)
		}
		if err := fn(run); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *RunRepository) scanRuns(ctx context.Context, q string, args ...interface{}) ([]*models.CycleRun, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.CycleRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (*models.CycleRun, error) {
	run := &models.CycleRun{}
	err := row.Scan(
		&run.Seq, &run.ID, &run.Trigger, &run.State, &run.BatchSize,
		&run.DeletedIDs, &run.FailedIDs, &run.ErrMsg,
		&run.OutcomeDigest, &run.ChainHash,
		&run.StartedAt, &run.FinishedAt, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}
