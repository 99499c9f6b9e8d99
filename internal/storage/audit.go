package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
)

// AppendAuditEntry appends one entry to the hash chain. The build callback
// receives the current chain head hash and returns the fully-hashed entry.
// The head row is locked FOR UPDATE for the whole read-build-insert span, so
// concurrent writers cannot chain off the same predecessor. Deadlocks on the
// head lock are retried with backoff.
func (db *DB) AppendAuditEntry(ctx context.Context, build func(previousHash string) (model.AuditEntry, error)) (model.AuditEntry, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var entry model.AuditEntry
	err := WithRetry(ctx, 3, 25*time.Millisecond, func() error {
		var err error
		entry, err = db.appendAuditEntryOnce(ctx, build)
		return err
	})
	if err != nil {
		return model.AuditEntry{}, err
	}
	return entry, nil
}

func (db *DB) appendAuditEntryOnce(ctx context.Context, build func(previousHash string) (model.AuditEntry, error)) (model.AuditEntry, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: begin audit append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prev string
	if err := tx.QueryRow(ctx,
		`SELECT last_hash FROM audit_chain_head WHERE singleton FOR UPDATE`,
	).Scan(&prev); err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: lock audit chain head: %w", err)
	}

	entry, err := build(prev)
	if err != nil {
		return model.AuditEntry{}, err
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: marshal audit details: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (entry_id, ts, tenant_id, actor, action, resource, outcome, details, previous_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)`,
		entry.EntryID, entry.Timestamp, entry.TenantID, entry.Actor, entry.Action,
		entry.Resource, entry.Outcome, details, entry.PreviousHash, entry.EntryHash,
	); err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: insert audit entry: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE audit_chain_head SET last_hash = $1, updated_at = now() WHERE singleton`,
		entry.EntryHash,
	); err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: advance audit chain head: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.AuditEntry{}, fmt.Errorf("storage: commit audit append: %w", err)
	}
	return entry, nil
}

// StreamAuditEntries walks the full chain in append order, calling fn for
// each entry. fn returning an error stops the walk. Ordering is by the insert
// sequence, not ts: entries written in the same microsecond must still come
// back in chain order.
func (db *DB) StreamAuditEntries(ctx context.Context, fn func(model.AuditEntry) error) error {
	rows, err := db.pool.Query(ctx,
		`SELECT entry_id, ts, tenant_id, actor, action, resource, outcome, details, previous_hash, entry_hash
		 FROM audit_log
		 ORDER BY seq ASC`,
	)
	if err != nil {
		return fmt.Errorf("storage: stream audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return fmt.Errorf("storage: scan audit entry: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ListAuditEntries returns a tenant's audit slice, newest first.
func (db *DB) ListAuditEntries(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.AuditEntry, int, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM audit_log WHERE tenant_id = $1`, tenantID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count audit entries: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT entry_id, ts, tenant_id, actor, action, resource, outcome, details, previous_hash, entry_hash
		 FROM audit_log
		 WHERE tenant_id = $1
		 ORDER BY seq DESC
		 LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func scanAuditEntry(row rowScanner) (model.AuditEntry, error) {
	var e model.AuditEntry
	var details []byte
	var ts time.Time
	if err := row.Scan(
		&e.EntryID, &ts, &e.TenantID, &e.Actor, &e.Action,
		&e.Resource, &e.Outcome, &details, &e.PreviousHash, &e.EntryHash,
	); err != nil {
		return model.AuditEntry{}, err
	}
	e.Timestamp = ts.UTC()
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return model.AuditEntry{}, fmt.Errorf("unmarshal audit details: %w", err)
		}
	}
	return e, nil
}
