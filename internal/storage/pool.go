// Package storage provides the PostgreSQL storage layer for RiskCast.
//
// It manages connection pooling via pgxpool and the repository methods for
// the signal ledger, primary signal store, internal signals, outcomes,
// reconcile log, audit log and flywheel priors. Every method on a
// tenant-scoped table takes the tenant id explicitly; a query without a
// tenant predicate is a review defect.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/riskcast/riskcast/internal/telemetry"
)

// DB wraps a pgxpool.Pool with a per-statement deadline.
type DB struct {
	pool      *pgxpool.Pool
	stmtLimit time.Duration
	logger    *slog.Logger
}

// New creates a new DB with a connection pool and pings it.
// stmtLimit bounds every repository call; zero disables the per-call deadline.
func New(ctx context.Context, dsn string, stmtLimit time.Duration, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, stmtLimit: stmtLimit, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := db.deadline(ctx)
	defer cancel()
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// deadline applies the configured per-statement limit to ctx.
func (db *DB) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.stmtLimit <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, db.stmtLimit)
}

// RegisterPoolMetrics exposes connection pool gauges via OTEL.
// Call after telemetry.Init so the instruments attach to the real provider.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("riskcast/storage")

	_, _ = meter.Int64ObservableGauge("riskcast.db.pool.total_conns",
		metric.WithDescription("Total connections in the pgx pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().TotalConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("riskcast.db.pool.idle_conns",
		metric.WithDescription("Idle connections in the pgx pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().IdleConns()))
			return nil
		}),
	)
}
