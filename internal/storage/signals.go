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

// InsertSignal writes a signal into the primary store. Returns ErrDuplicate
// when (tenant, signal_id) already exists; the caller resolves the prior ack
// via GetSignal and treats the conflict as idempotent success.
func (db *DB) InsertSignal(ctx context.Context, s model.Signal) (model.Signal, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.IngestedAt.IsZero() {
		s.IngestedAt = time.Now().UTC()
	}

	evidence, err := json.Marshal(s.Evidence)
	if err != nil {
		return model.Signal{}, fmt.Errorf("storage: marshal signal evidence: %w", err)
	}
	regions, err := json.Marshal(s.Regions)
	if err != nil {
		return model.Signal{}, fmt.Errorf("storage: marshal signal regions: %w", err)
	}
	chokepoints, err := json.Marshal(s.Chokepoints)
	if err != nil {
		return model.Signal{}, fmt.Errorf("storage: marshal signal chokepoints: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO ingest_signals (
		     id, tenant_id, signal_id, ack_id, category, title,
		     probability, confidence, evidence, regions, chokepoints,
		     raw_payload, observed_at, emitted_at, ingested_at, active, processed
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11::jsonb, $12::jsonb, $13, $14, $15, $16, $17)`,
		s.ID, s.TenantID, s.SignalID, s.AckID, s.Category, s.Title,
		s.Probability, s.Confidence, evidence, regions, chokepoints,
		[]byte(s.RawPayload), s.ObservedAt, s.EmittedAt, s.IngestedAt, s.Active, s.Processed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Signal{}, ErrDuplicate
		}
		return model.Signal{}, fmt.Errorf("storage: insert signal: %w", err)
	}
	return s, nil
}

// GetSignal returns the primary-store row for a signal id.
func (db *DB) GetSignal(ctx context.Context, tenantID uuid.UUID, signalID string) (model.Signal, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	row := db.pool.QueryRow(ctx,
		selectSignalColumns+` FROM ingest_signals WHERE tenant_id = $1 AND signal_id = $2`,
		tenantID, signalID,
	)
	s, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Signal{}, ErrNotFound
		}
		return model.Signal{}, fmt.Errorf("storage: get signal: %w", err)
	}
	return s, nil
}

// ListSignalsSince returns primary-store signals ingested at or after t,
// optionally filtered by category, newest first, capped at limit.
func (db *DB) ListSignalsSince(ctx context.Context, tenantID uuid.UUID, t time.Time, category string, limit int) ([]model.Signal, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 500
	}
	query := selectSignalColumns + ` FROM ingest_signals
		 WHERE tenant_id = $1 AND ingested_at >= $2`
	args := []any{tenantID, t}
	if category != "" {
		query += ` AND category = $3`
		args = append(args, category)
	}
	query += fmt.Sprintf(` ORDER BY ingested_at DESC LIMIT %d`, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list signals since: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SignalIDsSince returns the set of primary-store signal ids ingested at or after t.
func (db *DB) SignalIDsSince(ctx context.Context, tenantID uuid.UUID, t time.Time) (map[string]struct{}, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT signal_id FROM ingest_signals WHERE tenant_id = $1 AND ingested_at >= $2`,
		tenantID, t,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: signal ids since: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan signal id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CountSignalsBetween counts primary-store signals ingested in [from, to).
func (db *DB) CountSignalsBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (int, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM ingest_signals
		 WHERE tenant_id = $1 AND ingested_at >= $2 AND ingested_at < $3`,
		tenantID, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count signals: %w", err)
	}
	return n, nil
}

// IngestTimesSince returns (emitted_at, ingested_at) pairs for lag and gap
// analysis, ordered by ingested_at ascending.
func (db *DB) IngestTimesSince(ctx context.Context, tenantID uuid.UUID, t time.Time) ([]IngestTimes, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT emitted_at, ingested_at FROM ingest_signals
		 WHERE tenant_id = $1 AND ingested_at >= $2
		 ORDER BY ingested_at ASC`, tenantID, t,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: ingest times since: %w", err)
	}
	defer rows.Close()

	var out []IngestTimes
	for rows.Next() {
		var it IngestTimes
		if err := rows.Scan(&it.EmittedAt, &it.IngestedAt); err != nil {
			return nil, fmt.Errorf("storage: scan ingest times: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// IngestTimes is one (emitted, ingested) timestamp pair from the primary store.
type IngestTimes struct {
	EmittedAt  *time.Time
	IngestedAt time.Time
}

const selectSignalColumns = `SELECT id, tenant_id, signal_id, ack_id, category, title,
	probability, confidence, evidence, regions, chokepoints, raw_payload,
	observed_at, emitted_at, ingested_at, active, processed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (model.Signal, error) {
	var s model.Signal
	var evidence, regions, chokepoints, raw []byte
	if err := row.Scan(
		&s.ID, &s.TenantID, &s.SignalID, &s.AckID, &s.Category, &s.Title,
		&s.Probability, &s.Confidence, &evidence, &regions, &chokepoints, &raw,
		&s.ObservedAt, &s.EmittedAt, &s.IngestedAt, &s.Active, &s.Processed,
	); err != nil {
		return model.Signal{}, err
	}
	s.RawPayload = raw
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &s.Evidence); err != nil {
			return model.Signal{}, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	if len(regions) > 0 {
		if err := json.Unmarshal(regions, &s.Regions); err != nil {
			return model.Signal{}, fmt.Errorf("unmarshal regions: %w", err)
		}
	}
	if len(chokepoints) > 0 {
		if err := json.Unmarshal(chokepoints, &s.Chokepoints); err != nil {
			return model.Signal{}, fmt.Errorf("unmarshal chokepoints: %w", err)
		}
	}
	return s, nil
}
