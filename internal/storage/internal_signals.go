package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
)

// UpsertInternalSignal inserts or refreshes a normalized per-entity signal.
// The composite key (tenant, source, signal_type, entity_type, entity_id)
// identifies the row; re-upserts refresh score, confidence and created_at.
func (db *DB) UpsertInternalSignal(ctx context.Context, s model.InternalSignal) (model.InternalSignal, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	if err := s.Validate(); err != nil {
		return model.InternalSignal{}, fmt.Errorf("storage: upsert internal signal: %w", err)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if len(s.Evidence) == 0 {
		s.Evidence = []byte(`{}`)
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO internal_signals (
		     id, tenant_id, source, signal_type, entity_type, entity_id,
		     confidence, severity_score, evidence, active, created_at
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
		 ON CONFLICT (tenant_id, source, signal_type, entity_type, entity_id)
		 DO UPDATE SET confidence = EXCLUDED.confidence,
		               severity_score = EXCLUDED.severity_score,
		               evidence = EXCLUDED.evidence,
		               active = EXCLUDED.active,
		               created_at = EXCLUDED.created_at`,
		s.ID, s.TenantID, s.Source, s.SignalType, s.EntityType, s.EntityID,
		s.Confidence, s.SeverityScore, []byte(s.Evidence), s.Active, s.CreatedAt,
	)
	if err != nil {
		return model.InternalSignal{}, fmt.Errorf("storage: upsert internal signal: %w", err)
	}
	return s, nil
}

// ListActiveInternalSignals returns the active signals for one entity.
func (db *DB) ListActiveInternalSignals(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, entityID string) ([]model.InternalSignal, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, source, signal_type, entity_type, entity_id,
		        confidence, severity_score, evidence, active, created_at
		 FROM internal_signals
		 WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND active
		 ORDER BY created_at DESC`,
		tenantID, entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list active internal signals: %w", err)
	}
	defer rows.Close()

	return scanInternalSignals(rows)
}

// RiskyEntity is one distinct entity with its worst active severity.
type RiskyEntity struct {
	EntityID    string
	MaxSeverity float64
}

// DistinctRiskyEntities returns entity ids whose worst active severity meets
// the threshold, ordered by that severity descending, capped at limit.
func (db *DB) DistinctRiskyEntities(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, minSeverity float64, limit int) ([]RiskyEntity, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := db.pool.Query(ctx,
		`SELECT entity_id, max(severity_score) AS max_severity
		 FROM internal_signals
		 WHERE tenant_id = $1 AND entity_type = $2 AND active
		 GROUP BY entity_id
		 HAVING max(severity_score) >= $3
		 ORDER BY max_severity DESC
		 LIMIT $4`,
		tenantID, entityType, minSeverity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: distinct risky entities: %w", err)
	}
	defer rows.Close()

	var out []RiskyEntity
	for rows.Next() {
		var e RiskyEntity
		if err := rows.Scan(&e.EntityID, &e.MaxSeverity); err != nil {
			return nil, fmt.Errorf("storage: scan risky entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AvgSeverityForEntity returns the average active severity for one entity,
// used by exposure estimation for non-order entities.
func (db *DB) AvgSeverityForEntity(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, entityID string) (float64, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var avg *float64
	err := db.pool.QueryRow(ctx,
		`SELECT avg(severity_score) FROM internal_signals
		 WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND active`,
		tenantID, entityType, entityID,
	).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("storage: avg severity for entity: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

func scanInternalSignals(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]model.InternalSignal, error) {
	var out []model.InternalSignal
	for rows.Next() {
		var s model.InternalSignal
		var evidence []byte
		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.Source, &s.SignalType, &s.EntityType, &s.EntityID,
			&s.Confidence, &s.SeverityScore, &evidence, &s.Active, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan internal signal: %w", err)
		}
		s.Evidence = evidence
		out = append(out, s)
	}
	return out, rows.Err()
}
