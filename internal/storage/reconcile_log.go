package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/riskcast/riskcast/internal/model"
)

// OpenReconcileRun inserts a running reconcile row and returns it.
func (db *DB) OpenReconcileRun(ctx context.Context, tenantID uuid.UUID, reconcileID string, sinceDays int) (model.ReconcileRun, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	r := model.ReconcileRun{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ReconcileID: reconcileID,
		Status:      model.ReconcileRunning,
		SinceDays:   sinceDays,
		StartedAt:   time.Now().UTC(),
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO reconcile_log (id, tenant_id, reconcile_id, status, since_days, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.TenantID, r.ReconcileID, r.Status, r.SinceDays, r.StartedAt,
	)
	if err != nil {
		return model.ReconcileRun{}, fmt.Errorf("storage: open reconcile run: %w", err)
	}
	return r, nil
}

// CloseReconcileRun finalizes a run with its counts and terminal status.
func (db *DB) CloseReconcileRun(ctx context.Context, r model.ReconcileRun) error {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE reconcile_log
		 SET status = $3, ledger_count = $4, primary_count = $5, missing_count = $6,
		     replayed_count = $7, failed_count = $8, finished_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND status = $9`,
		r.TenantID, r.ID, r.Status, r.LedgerCount, r.PrimaryCount, r.MissingCount,
		r.ReplayedCount, r.FailedCount, model.ReconcileRunning,
	)
	if err != nil {
		return fmt.Errorf("storage: close reconcile run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: close reconcile run: run not found or already closed")
	}
	return nil
}

// LastReconcileRun returns the most recently started run for a tenant.
func (db *DB) LastReconcileRun(ctx context.Context, tenantID uuid.UUID) (model.ReconcileRun, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	row := db.pool.QueryRow(ctx,
		selectReconcileColumns+` FROM reconcile_log
		 WHERE tenant_id = $1
		 ORDER BY started_at DESC
		 LIMIT 1`, tenantID,
	)
	r, err := scanReconcileRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ReconcileRun{}, ErrNotFound
		}
		return model.ReconcileRun{}, fmt.Errorf("storage: last reconcile run: %w", err)
	}
	return r, nil
}

// ReconcileRunsBetween returns runs started in [from, to), oldest first.
func (db *DB) ReconcileRunsBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]model.ReconcileRun, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		selectReconcileColumns+` FROM reconcile_log
		 WHERE tenant_id = $1 AND started_at >= $2 AND started_at < $3
		 ORDER BY started_at ASC`,
		tenantID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: reconcile runs between: %w", err)
	}
	defer rows.Close()

	var out []model.ReconcileRun
	for rows.Next() {
		r, err := scanReconcileRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan reconcile run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectReconcileColumns = `SELECT id, tenant_id, reconcile_id, status, since_days,
	ledger_count, primary_count, missing_count, replayed_count, failed_count,
	started_at, finished_at`

func scanReconcileRun(row rowScanner) (model.ReconcileRun, error) {
	var r model.ReconcileRun
	if err := row.Scan(
		&r.ID, &r.TenantID, &r.ReconcileID, &r.Status, &r.SinceDays,
		&r.LedgerCount, &r.PrimaryCount, &r.MissingCount, &r.ReplayedCount, &r.FailedCount,
		&r.StartedAt, &r.FinishedAt,
	); err != nil {
		return model.ReconcileRun{}, err
	}
	return r, nil
}
