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

// RecordLedgerEntry appends a received-signal row to the write-ahead ledger.
// The write commits in its own transaction before any primary-store insert
// for the same signal begins; that ordering is the ledger-first contract.
func (db *DB) RecordLedgerEntry(ctx context.Context, tenantID uuid.UUID, signalID string, payload json.RawMessage) (model.LedgerEntry, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	e := model.LedgerEntry{
		ID:         uuid.New(),
		TenantID:   tenantID,
		SignalID:   signalID,
		Payload:    payload,
		Status:     model.LedgerReceived,
		RecordedAt: time.Now().UTC(),
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO signal_ledger (id, tenant_id, signal_id, payload, status, recorded_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
		e.ID, e.TenantID, e.SignalID, []byte(e.Payload), e.Status, e.RecordedAt,
	)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("storage: record ledger entry: %w", err)
	}
	return e, nil
}

// MarkLedgerIngested flips a received entry to ingested with its ack.
// The WHERE status clause makes the transition monotonic: an entry that
// already reached ingested or failed is left untouched.
func (db *DB) MarkLedgerIngested(ctx context.Context, tenantID, entryID uuid.UUID, ackID string) error {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE signal_ledger
		 SET status = $4, ack_id = $3, ingested_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND status = $5`,
		tenantID, entryID, ackID, model.LedgerIngested, model.LedgerReceived,
	)
	if err != nil {
		return fmt.Errorf("storage: mark ledger ingested: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: mark ledger ingested: entry not found or not in received state")
	}
	return nil
}

// MarkLedgerFailed records an ingest failure on a received entry.
func (db *DB) MarkLedgerFailed(ctx context.Context, tenantID, entryID uuid.UUID, errMsg string) error {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE signal_ledger
		 SET status = $4, error_message = $3
		 WHERE tenant_id = $1 AND id = $2 AND status = $5`,
		tenantID, entryID, errMsg, model.LedgerFailed, model.LedgerReceived,
	)
	if err != nil {
		return fmt.Errorf("storage: mark ledger failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: mark ledger failed: entry not found or not in received state")
	}
	return nil
}

// ReplayLedgerIngested is like MarkLedgerIngested but accepts entries in any
// non-ingested state. The reconciler uses it after a successful replay of a
// previously failed or stuck entry.
func (db *DB) ReplayLedgerIngested(ctx context.Context, tenantID uuid.UUID, signalID, ackID string) error {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`UPDATE signal_ledger
		 SET status = $4, ack_id = $3, ingested_at = now(), error_message = NULL
		 WHERE tenant_id = $1 AND signal_id = $2 AND status <> $4`,
		tenantID, signalID, ackID, model.LedgerIngested,
	)
	if err != nil {
		return fmt.Errorf("storage: replay ledger ingested: %w", err)
	}
	return nil
}

// GetLedgerEntry returns the most recent ledger entry for a signal id.
func (db *DB) GetLedgerEntry(ctx context.Context, tenantID uuid.UUID, signalID string) (model.LedgerEntry, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var e model.LedgerEntry
	var payload []byte
	var ackID, errMsg *string
	err := db.pool.QueryRow(ctx,
		`SELECT id, tenant_id, signal_id, payload, status, ack_id, error_message, recorded_at, ingested_at
		 FROM signal_ledger
		 WHERE tenant_id = $1 AND signal_id = $2
		 ORDER BY recorded_at DESC
		 LIMIT 1`, tenantID, signalID,
	).Scan(&e.ID, &e.TenantID, &e.SignalID, &payload, &e.Status, &ackID, &errMsg, &e.RecordedAt, &e.IngestedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LedgerEntry{}, ErrNotFound
		}
		return model.LedgerEntry{}, fmt.Errorf("storage: get ledger entry: %w", err)
	}
	e.Payload = payload
	if ackID != nil {
		e.AckID = *ackID
	}
	if errMsg != nil {
		e.ErrorMessage = *errMsg
	}
	return e, nil
}

// LedgerEntriesSince returns all ledger entries recorded at or after t.
func (db *DB) LedgerEntriesSince(ctx context.Context, tenantID uuid.UUID, t time.Time) ([]model.LedgerEntry, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, signal_id, payload, status, ack_id, error_message, recorded_at, ingested_at
		 FROM signal_ledger
		 WHERE tenant_id = $1 AND recorded_at >= $2
		 ORDER BY recorded_at ASC`, tenantID, t,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: ledger entries since: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var payload []byte
		var ackID, errMsg *string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.SignalID, &payload, &e.Status, &ackID, &errMsg, &e.RecordedAt, &e.IngestedAt); err != nil {
			return nil, fmt.Errorf("storage: scan ledger entry: %w", err)
		}
		e.Payload = payload
		if ackID != nil {
			e.AckID = *ackID
		}
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LedgerSignalIDsSince returns the set of signal ids recorded at or after t.
func (db *DB) LedgerSignalIDsSince(ctx context.Context, tenantID uuid.UUID, t time.Time) (map[string]struct{}, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT signal_id FROM signal_ledger
		 WHERE tenant_id = $1 AND recorded_at >= $2`, tenantID, t,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: ledger signal ids since: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan ledger signal id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// CountFailedLedgerSince counts failed ledger entries recorded at or after t.
func (db *DB) CountFailedLedgerSince(ctx context.Context, tenantID uuid.UUID, t time.Time) (int, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM signal_ledger
		 WHERE tenant_id = $1 AND recorded_at >= $2 AND status = $3`,
		tenantID, t, model.LedgerFailed,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count failed ledger: %w", err)
	}
	return n, nil
}

// TotalLedgerDepth counts received-state ledger entries across all tenants.
// Feeds the scrape-side backlog gauge.
func (db *DB) TotalLedgerDepth(ctx context.Context) (int, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM signal_ledger WHERE status = $1`,
		model.LedgerReceived,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: total ledger depth: %w", err)
	}
	return n, nil
}

// LedgerDepth returns the number of ledger entries still in received state.
func (db *DB) LedgerDepth(ctx context.Context, tenantID uuid.UUID) (int, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM signal_ledger WHERE tenant_id = $1 AND status = $2`,
		tenantID, model.LedgerReceived,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: ledger depth: %w", err)
	}
	return n, nil
}
