package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/riskcast/riskcast/internal/model"
)

// InsertOutcome writes an immutable outcome record. Returns ErrDuplicate when
// an outcome already exists for the decision id; the stored record is never
// altered by a re-POST.
func (db *DB) InsertOutcome(ctx context.Context, o model.OutcomeRecord) (model.OutcomeRecord, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}

	predicted, err := json.Marshal(o.Predicted)
	if err != nil {
		return model.OutcomeRecord{}, fmt.Errorf("storage: marshal predicted snapshot: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO outcomes (
		     id, tenant_id, decision_id, entity_type, entity_id, predicted,
		     outcome_type, actual_loss, actual_delay_days, action_taken, action_followed, action_cost,
		     risk_materialized, prediction_error, was_accurate, value_generated, notes, recorded_at
		 )
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		o.ID, o.TenantID, o.DecisionID, o.EntityType, o.EntityID, predicted,
		o.OutcomeType, o.ActualLoss, o.ActualDelayDays, o.ActionTaken, o.ActionFollowed, o.ActionCostUSD,
		o.RiskMaterialized, o.PredictionError, o.WasAccurate, o.ValueGenerated, o.Notes, o.RecordedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.OutcomeRecord{}, ErrDuplicate
		}
		return model.OutcomeRecord{}, fmt.Errorf("storage: insert outcome: %w", err)
	}
	return o, nil
}

// GetOutcome returns the outcome record for a decision id.
func (db *DB) GetOutcome(ctx context.Context, tenantID uuid.UUID, decisionID string) (model.OutcomeRecord, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	row := db.pool.QueryRow(ctx,
		selectOutcomeColumns+` FROM outcomes WHERE tenant_id = $1 AND decision_id = $2`,
		tenantID, decisionID,
	)
	o, err := scanOutcome(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OutcomeRecord{}, ErrNotFound
		}
		return model.OutcomeRecord{}, fmt.Errorf("storage: get outcome: %w", err)
	}
	return o, nil
}

// ListOutcomesBetween returns outcome records recorded in [from, to),
// oldest first.
func (db *DB) ListOutcomesBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]model.OutcomeRecord, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		selectOutcomeColumns+` FROM outcomes
		 WHERE tenant_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		 ORDER BY recorded_at ASC`,
		tenantID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.OutcomeRecord
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOutcomesForEntityType returns recent outcomes for one entity type,
// used by the flywheel's per-(tenant, entity_type) prior updates.
func (db *DB) ListOutcomesForEntityType(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, since time.Time) ([]model.OutcomeRecord, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		selectOutcomeColumns+` FROM outcomes
		 WHERE tenant_id = $1 AND entity_type = $2 AND recorded_at >= $3
		 ORDER BY recorded_at ASC`,
		tenantID, entityType, since,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list outcomes for entity type: %w", err)
	}
	defer rows.Close()

	var out []model.OutcomeRecord
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OutcomeEntityTypes returns the distinct entity types with outcomes recorded
// since the cutoff.
func (db *DB) OutcomeEntityTypes(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]model.EntityType, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT entity_type FROM outcomes
		 WHERE tenant_id = $1 AND recorded_at >= $2
		 ORDER BY entity_type`,
		tenantID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: outcome entity types: %w", err)
	}
	defer rows.Close()

	var out []model.EntityType
	for rows.Next() {
		var et model.EntityType
		if err := rows.Scan(&et); err != nil {
			return nil, fmt.Errorf("storage: scan entity type: %w", err)
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

const selectOutcomeColumns = `SELECT id, tenant_id, decision_id, entity_type, entity_id, predicted,
	outcome_type, actual_loss, actual_delay_days, action_taken, action_followed, action_cost,
	risk_materialized, prediction_error, was_accurate, value_generated, notes, recorded_at`

func scanOutcome(row rowScanner) (model.OutcomeRecord, error) {
	var o model.OutcomeRecord
	var predicted []byte
	if err := row.Scan(
		&o.ID, &o.TenantID, &o.DecisionID, &o.EntityType, &o.EntityID, &predicted,
		&o.OutcomeType, &o.ActualLoss, &o.ActualDelayDays, &o.ActionTaken, &o.ActionFollowed, &o.ActionCostUSD,
		&o.RiskMaterialized, &o.PredictionError, &o.WasAccurate, &o.ValueGenerated, &o.Notes, &o.RecordedAt,
	); err != nil {
		return model.OutcomeRecord{}, err
	}
	if len(predicted) > 0 {
		if err := json.Unmarshal(predicted, &o.Predicted); err != nil {
			return model.OutcomeRecord{}, fmt.Errorf("unmarshal predicted snapshot: %w", err)
		}
	}
	return o, nil
}
