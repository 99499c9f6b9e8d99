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

// CreateTenant inserts a tenant. Returns ErrDuplicate on slug collision.
func (db *DB) CreateTenant(ctx context.Context, name, slug string) (model.Tenant, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	t := model.Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, slug, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Slug, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Tenant{}, ErrDuplicate
		}
		return model.Tenant{}, fmt.Errorf("storage: create tenant: %w", err)
	}
	return t, nil
}

// GetTenant returns a tenant by id.
func (db *DB) GetTenant(ctx context.Context, id uuid.UUID) (model.Tenant, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var t model.Tenant
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, slug, created_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tenant{}, ErrNotFound
		}
		return model.Tenant{}, fmt.Errorf("storage: get tenant: %w", err)
	}
	return t, nil
}

// GetTenantBySlug returns a tenant by its slug.
func (db *DB) GetTenantBySlug(ctx context.Context, slug string) (model.Tenant, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	var t model.Tenant
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, slug, created_at FROM tenants WHERE slug = $1`, slug,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tenant{}, ErrNotFound
		}
		return model.Tenant{}, fmt.Errorf("storage: get tenant by slug: %w", err)
	}
	return t, nil
}

// ListTenants returns all tenants, oldest first. Used by background jobs
// that fan out per tenant.
func (db *DB) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT id, name, slug, created_at FROM tenants ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list tenants: %w", err)
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertAPIKey stores a hashed API key for a tenant.
func (db *DB) InsertAPIKey(ctx context.Context, k model.APIKey) (model.APIKey, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, key_prefix, key_hash, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		k.ID, k.TenantID, k.KeyPrefix, k.KeyHash, k.Description, k.CreatedAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: insert api key: %w", err)
	}
	return k, nil
}

// APIKeysByPrefix returns the unrevoked keys sharing a prefix. The caller
// verifies the full key against each candidate hash.
func (db *DB) APIKeysByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_id, key_prefix, key_hash, description, created_at, revoked_at
		 FROM api_keys
		 WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: api keys by prefix: %w", err)
	}
	defer rows.Close()

	var out []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.KeyPrefix, &k.KeyHash,
			&k.Description, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("storage: scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// RevokeAPIKey marks a key revoked. Revoking twice is a no-op.
func (db *DB) RevokeAPIKey(ctx context.Context, tenantID, keyID uuid.UUID) error {
	ctx, cancel := db.deadline(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now()
		 WHERE tenant_id = $1 AND id = $2 AND revoked_at IS NULL`,
		tenantID, keyID,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
