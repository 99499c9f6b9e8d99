package model

import (
	"time"

	"github.com/google/uuid"
)

// ReconcileStatus is the lifecycle state of one reconcile run.
type ReconcileStatus string

const (
	ReconcileRunning   ReconcileStatus = "running"
	ReconcileCompleted ReconcileStatus = "completed"
	ReconcilePartial   ReconcileStatus = "partial"
	ReconcileFailed    ReconcileStatus = "failed"
)

// ReconcileRun is one ledger-vs-primary consistency pass.
type ReconcileRun struct {
	ID            uuid.UUID       `json:"-"`
	TenantID      uuid.UUID       `json:"-"`
	ReconcileID   string          `json:"reconcile_id"`
	Status        ReconcileStatus `json:"status"`
	SinceDays     int             `json:"since_days"`
	LedgerCount   int             `json:"ledger_count"`
	PrimaryCount  int             `json:"primary_count"`
	MissingCount  int             `json:"missing_count"`
	ReplayedCount int             `json:"replayed_count"`
	FailedCount   int             `json:"failed_count"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// IsConsistent reports whether the run found ledger and primary in agreement
// with nothing left missing.
func (r ReconcileRun) IsConsistent() bool {
	return r.Status == ReconcileCompleted && r.MissingCount == 0
}
