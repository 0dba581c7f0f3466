package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CycleState is the reconciler's position in one cleanup cycle.
type CycleState string

const (
	CycleStateIdle       CycleState = "idle"
	CycleStateListing    CycleState = "listing"
	CycleStateDeleting   CycleState = "deleting"
	CycleStateConfirming CycleState = "confirming"
	CycleStateDone       CycleState = "done"
	CycleStateFailed     CycleState = "failed"
)

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerTicker   Trigger = "ticker"
	TriggerOnce     Trigger = "once"
	TriggerManual   Trigger = "manual"
)

// PendingFile is an upload the authority has marked for physical deletion.
type PendingFile struct {
	ID         string    `json:"id"`
	StorageKey string    `json:"storageKey"`
	MarkedAt   RawTime `json:"markedAt"`
}

// RawTime keeps a timestamp exactly as the authority sent it. It is only
// logged, so any format is accepted: RFC 3339, zone-less ISO, epoch millis.
type RawTime string

func (t *RawTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = RawTime(s)
		return nil
	}
	*t = RawTime(bytes.TrimSpace(b))
	return nil
}

// Outcome partitions one batch's ids. Both slices keep batch order.
type Outcome struct {
	DeletedIDs []string `json:"deletedIds"`
	FailedIDs  []string `json:"failedIds"`
}

// NewOutcome returns an Outcome whose slices encode as [] rather than null.
func NewOutcome(capacity int) Outcome {
	return Outcome{
		DeletedIDs: make([]string, 0, capacity),
		FailedIDs:  make([]string, 0, capacity),
	}
}

// Total is the number of classified ids.
func (o Outcome) Total() int { return len(o.DeletedIDs) + len(o.FailedIDs) }

// CycleReport is what one reconciler cycle returns to its host.
type CycleReport struct {
	RunID      uuid.UUID
	Trigger    Trigger
	State      CycleState
	BatchSize  int
	Absent     int // deletions that found the object already gone
	Outcome    Outcome
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Duration is the wall-clock time the cycle took.
func (r *CycleReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// CycleRun is the persisted audit record of a cycle.
type CycleRun struct {
	Seq           int64      `db:"seq"            json:"seq"`
	ID            uuid.UUID  `db:"id"             json:"id"`
	Trigger       Trigger    `db:"trigger"        json:"trigger"`
	State         CycleState `db:"state"          json:"state"`
	BatchSize     int        `db:"batch_size"     json:"batch_size"`
	DeletedIDs    []string   `db:"deleted_ids"    json:"deleted_ids"`
	FailedIDs     []string   `db:"failed_ids"     json:"failed_ids"`
	ErrMsg        string     `db:"err_msg"        json:"err_msg,omitempty"`
	OutcomeDigest string     `db:"outcome_digest" json:"outcome_digest"`
	ChainHash     string     `db:"chain_hash"     json:"chain_hash"`
	StartedAt     time.Time  `db:"started_at"     json:"started_at"`
	FinishedAt    time.Time  `db:"finished_at"    json:"finished_at"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
}

// RunFromReport converts a finished report into its audit record. Digest and
// chain hash are filled in by the repository.
func RunFromReport(r *CycleReport) *CycleRun {
	run := &CycleRun{
		ID:         r.RunID,
		Trigger:    r.Trigger,
		State:      r.State,
		BatchSize:  r.BatchSize,
		DeletedIDs: r.Outcome.DeletedIDs,
		FailedIDs:  r.Outcome.FailedIDs,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if run.DeletedIDs == nil {
		run.DeletedIDs = []string{}
	}
	if run.FailedIDs == nil {
		run.FailedIDs = []string{}
	}
	if r.Err != nil {
		run.ErrMsg = r.Err.Error()
	}
	return run
}
