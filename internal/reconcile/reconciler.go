// Package reconcile repairs ledger/primary divergence: any signal recorded
// in the write-ahead ledger but absent from the primary store is replayed
// from its stored payload.
package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

// ErrRunInProgress is returned when a run is requested while another run for
// the same tenant is still executing.
var ErrRunInProgress = errors.New("reconcile: run already in progress for tenant")

const defaultSinceDays = 7

// Store is the persistence surface the reconciler needs.
type Store interface {
	OpenReconcileRun(ctx context.Context, tenantID uuid.UUID, reconcileID string, sinceDays int) (model.ReconcileRun, error)
	CloseReconcileRun(ctx context.Context, r model.ReconcileRun) error
	LastReconcileRun(ctx context.Context, tenantID uuid.UUID) (model.ReconcileRun, error)
	ReconcileRunsBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]model.ReconcileRun, error)
	LedgerEntriesSince(ctx context.Context, tenantID uuid.UUID, t time.Time) ([]model.LedgerEntry, error)
	SignalIDsSince(ctx context.Context, tenantID uuid.UUID, t time.Time) (map[string]struct{}, error)
}

// Replayer re-drives one signal from its ledger payload.
type Replayer interface {
	ReplayFromLedger(ctx context.Context, tenantID uuid.UUID, signalID string, payload json.RawMessage) (string, bool, error)
}

// Reconciler runs ledger-vs-primary consistency passes, one at a time per
// tenant.
type Reconciler struct {
	store    Store
	replayer Replayer
	logger   *slog.Logger
	now      func() time.Time

	locks sync.Map // tenant uuid → *tenantLock
}

type tenantLock struct {
	busy sync.Mutex
}

// New creates a reconciler.
func New(store Store, replayer Replayer, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, replayer: replayer, logger: logger, now: time.Now}
}

// Run executes one reconcile pass over the last sinceDays days. Only one run
// per tenant may execute at a time; a concurrent request gets
// ErrRunInProgress instead of queueing.
func (r *Reconciler) Run(ctx context.Context, tenantID uuid.UUID, sinceDays int) (model.ReconcileRun, error) {
	if sinceDays <= 0 {
		sinceDays = defaultSinceDays
	}

	lockAny, _ := r.locks.LoadOrStore(tenantID, &tenantLock{})
	lock := lockAny.(*tenantLock)
	if !lock.busy.TryLock() {
		return model.ReconcileRun{}, ErrRunInProgress
	}
	defer lock.busy.Unlock()

	run, err := r.store.OpenReconcileRun(ctx, tenantID, newReconcileID(), sinceDays)
	if err != nil {
		return model.ReconcileRun{}, err
	}

	since := r.now().UTC().AddDate(0, 0, -sinceDays)
	run, runErr := r.execute(ctx, run, since)
	if closeErr := r.store.CloseReconcileRun(ctx, run); closeErr != nil {
		r.logger.Error("reconcile: close run failed", "reconcile_id", run.ReconcileID, "error", closeErr)
	}
	if runErr != nil {
		return run, runErr
	}
	return run, nil
}

func (r *Reconciler) execute(ctx context.Context, run model.ReconcileRun, since time.Time) (model.ReconcileRun, error) {
	entries, err := r.store.LedgerEntriesSince(ctx, run.TenantID, since)
	if err != nil {
		run.Status = model.ReconcileFailed
		return run, fmt.Errorf("reconcile: read ledger: %w", err)
	}
	primaryIDs, err := r.store.SignalIDsSince(ctx, run.TenantID, since)
	if err != nil {
		run.Status = model.ReconcileFailed
		return run, fmt.Errorf("reconcile: read primary ids: %w", err)
	}

	// Latest payload wins when a signal_id appears more than once.
	payloads := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		payloads[e.SignalID] = e.Payload
	}
	run.LedgerCount = len(payloads)
	run.PrimaryCount = len(primaryIDs)

	var missing []string
	for id := range payloads {
		if _, ok := primaryIDs[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	run.MissingCount = len(missing)

	for _, id := range missing {
		if _, _, err := r.replayer.ReplayFromLedger(ctx, run.TenantID, id, payloads[id]); err != nil {
			run.FailedCount++
			r.logger.Warn("reconcile: replay failed",
				"reconcile_id", run.ReconcileID, "signal_id", id, "error", err)
			continue
		}
		run.ReplayedCount++
	}

	switch {
	case run.FailedCount == 0:
		// All replayed or nothing was missing. A run that had to replay
		// reports its missing count as found; the next clean run is the one
		// that attests consistency.
		run.Status = model.ReconcileCompleted
	case run.ReplayedCount > 0:
		run.Status = model.ReconcilePartial
	default:
		run.Status = model.ReconcileFailed
	}
	return run, nil
}

// StatusResult is the latest run plus the derived consistency flag.
type StatusResult struct {
	LastRun      *model.ReconcileRun `json:"last_run"`
	IsConsistent bool                `json:"is_consistent"`
}

// Status returns the most recent run and whether ledger and primary agree.
// With no run on record the tenant is reported as not yet consistent.
func (r *Reconciler) Status(ctx context.Context, tenantID uuid.UUID) (StatusResult, error) {
	run, err := r.store.LastReconcileRun(ctx, tenantID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{LastRun: &run, IsConsistent: run.IsConsistent()}, nil
}

// StatusOn reports the status as of the end of the given UTC day: the most
// recent run started on or before it. Returns storage.ErrNotFound when no
// run had started by then.
func (r *Reconciler) StatusOn(ctx context.Context, tenantID uuid.UUID, day time.Time) (StatusResult, error) {
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	runs, err := r.store.ReconcileRunsBetween(ctx, tenantID, time.Time{}, dayEnd)
	if err != nil {
		return StatusResult{}, err
	}
	if len(runs) == 0 {
		return StatusResult{}, storage.ErrNotFound
	}
	last := runs[len(runs)-1]
	return StatusResult{LastRun: &last, IsConsistent: last.IsConsistent()}, nil
}

// History returns the runs started on the given UTC day.
func (r *Reconciler) History(ctx context.Context, tenantID uuid.UUID, day time.Time) ([]model.ReconcileRun, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return r.store.ReconcileRunsBetween(ctx, tenantID, from, from.AddDate(0, 0, 1))
}

func newReconcileID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("reconcile: read random bytes: %v", err))
	}
	return "rec-" + hex.EncodeToString(b[:])
}
