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

// GetPrior returns the stored Beta prior for one (tenant, entity_type).
func (db *DB) GetPrior(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType) (model.RiskPrior, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var p model.RiskPrior
	err := db.pool.QueryRow(ctx,
		`SELECT tenant_id, entity_type, alpha, beta, observed_rate, drift,
		        n_outcomes, needs_recalibration, updated_at
		 FROM risk_priors
		 WHERE tenant_id = $1 AND entity_type = $2`,
		tenantID, entityType,
	).Scan(&p.TenantID, &p.EntityType, &p.Alpha, &p.Beta, &p.ObservedRate, &p.Drift,
		&p.NOutcomes, &p.NeedsRecalibration, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RiskPrior{}, ErrNotFound
		}
		return model.RiskPrior{}, fmt.Errorf("storage: get prior: %w", err)
	}
	return p, nil
}

// UpsertPrior writes the prior, replacing any existing row for the pair.
func (db *DB) UpsertPrior(ctx context.Context, p model.RiskPrior) (model.RiskPrior, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO risk_priors (tenant_id, entity_type, alpha, beta, observed_rate,
		                          drift, n_outcomes, needs_recalibration, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (tenant_id, entity_type)
		 DO UPDATE SET alpha = EXCLUDED.alpha,
		               beta = EXCLUDED.beta,
		               observed_rate = EXCLUDED.observed_rate,
		               drift = EXCLUDED.drift,
		               n_outcomes = EXCLUDED.n_outcomes,
		               needs_recalibration = EXCLUDED.needs_recalibration,
		               updated_at = EXCLUDED.updated_at`,
		p.TenantID, p.EntityType, p.Alpha, p.Beta, p.ObservedRate,
		p.Drift, p.NOutcomes, p.NeedsRecalibration, p.UpdatedAt,
	)
	if err != nil {
		return model.RiskPrior{}, fmt.Errorf("storage: upsert prior: %w", err)
	}
	return p, nil
}

// ListPriors returns every stored prior for a tenant.
func (db *DB) ListPriors(ctx context.Context, tenantID uuid.UUID) ([]model.RiskPrior, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT tenant_id, entity_type, alpha, beta, observed_rate, drift,
		        n_outcomes, needs_recalibration, updated_at
		 FROM risk_priors
		 WHERE tenant_id = $1
		 ORDER BY entity_type ASC`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list priors: %w", err)
	}
	defer rows.Close()

	var out []model.RiskPrior
	for rows.Next() {
		var p model.RiskPrior
		if err := rows.Scan(&p.TenantID, &p.EntityType, &p.Alpha, &p.Beta, &p.ObservedRate,
			&p.Drift, &p.NOutcomes, &p.NeedsRecalibration, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan prior: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
