// Package riskcast wires the full risk-decision platform: storage, audit
// chain, ingest pipeline, reconciler, risk and decision engines, outcome
// tracking, flywheel and the HTTP API. Embedders construct an App with New
// and drive it with Run; cmd/riskcast is a thin wrapper around the same.
package riskcast

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/riskcast/riskcast/internal/alerts"
	"github.com/riskcast/riskcast/internal/audit"
	"github.com/riskcast/riskcast/internal/auth"
	"github.com/riskcast/riskcast/internal/config"
	"github.com/riskcast/riskcast/internal/decision"
	"github.com/riskcast/riskcast/internal/flywheel"
	"github.com/riskcast/riskcast/internal/ingest"
	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/outcome"
	"github.com/riskcast/riskcast/internal/pipeline"
	"github.com/riskcast/riskcast/internal/reconcile"
	"github.com/riskcast/riskcast/internal/risk"
	"github.com/riskcast/riskcast/internal/server"
	"github.com/riskcast/riskcast/internal/storage"
	"github.com/riskcast/riskcast/internal/telemetry"
	"github.com/riskcast/riskcast/migrations"
)

// Version is stamped via -ldflags at release builds.
var Version = "dev"

// Option customizes App construction.
type Option func(*options)

type options struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
}

// WithConfig supplies a pre-built configuration instead of reading the
// environment.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = &cfg }
}

// WithLogger supplies the root logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry supplies the Prometheus registry served at /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// App is the assembled platform.
type App struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *storage.DB
	srv      *server.Server
	alerts   *alerts.Dispatcher
	dead     *alerts.Deadletter
	recon    *reconcile.Reconciler
	otelStop telemetry.Shutdown
}

// New builds the application: it loads config (unless provided), connects to
// Postgres, runs migrations, bootstraps the default tenant and wires every
// service into the HTTP server.
func New(ctx context.Context, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := config.Config{}
	if o.cfg != nil {
		cfg = *o.cfg
	} else {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel(cfg.LogLevel),
		}))
	}
	slog.SetDefault(logger)

	otelStop, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, Version, cfg.OTELInsecure)
	if err != nil {
		return nil, err
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.DBTimeout, logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, err
	}
	db.RegisterPoolMetrics()

	registry := o.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "riskcast_ledger_backlog",
		Help: "Ledger entries still in received state, all tenants.",
	}, func() float64 {
		scrapeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := db.TotalLedgerDepth(scrapeCtx)
		if err != nil {
			return -1
		}
		return float64(n)
	}))

	var deadletter *alerts.Deadletter
	if cfg.AlertDeadletterDB != "" {
		deadletter, err = alerts.OpenDeadletter(cfg.AlertDeadletterDB)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	dispatcher := alerts.NewDispatcher(alerts.LogSink{Logger: logger}, deadletter, logger,
		cfg.AlertWorkers, cfg.AlertQueueSize)

	auditSvc := audit.New(db, logger)
	ingestMetrics := ingest.NewMetrics(registry)
	ingestSvc := ingest.New(db, dispatcher, cfg.AlertOnIngest, ingestMetrics, logger)
	reconciler := reconcile.New(db, ingestSvc, logger)

	monitor := pipeline.NewMonitor(db, pipeline.MonitorConfig{
		FreshMinutes: cfg.FreshMinutes,
		StaleMinutes: cfg.StaleMinutes,
		GapMinutes:   cfg.GapMinutes,
	})
	checker := pipeline.NewChecker(db)
	tracer := pipeline.NewTracer(db)

	var scaler risk.Scaler
	if cfg.ApplyCalibration {
		scaler = risk.PlattScaler{A: cfg.PlattA, B: cfg.PlattB}
	}
	riskEngine := risk.NewEngine(db, db, risk.ParamsFromConfig(cfg), scaler)
	decisionEngine := decision.NewEngine(riskEngine, db, dispatcher, decision.Config{
		Thresholds: decision.EscalationThresholds{
			ExposureUSD:   cfg.EscalationExposureUSD,
			MinConfidence: cfg.EscalationMinConfidence,
			RiskScore:     cfg.EscalationRiskScore,
			Disagreement:  cfg.EscalationDisagreement,
		},
		ExposureScale: cfg.ExposureScale,
		AlertOn:       cfg.AlertOnDecision,
	}, logger)

	outcomeSvc := outcome.NewService(db, auditSvc, logger)
	flywheelSvc := flywheel.NewService(db, flywheel.ParamsFromConfig(cfg), logger)

	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := bootstrapTenant(ctx, db, cfg, logger); err != nil {
		db.Close()
		return nil, err
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		Ingest:      ingestSvc,
		Reconcile:   reconciler,
		Monitor:     monitor,
		Integrity:   checker,
		Tracer:      tracer,
		Risk:        riskEngine,
		Decision:    decisionEngine,
		Outcome:     outcomeSvc,
		Flywheel:    flywheelSvc,
		Audit:       auditSvc,
		AuditLog:    auditSvc,
		AuditStore:  db,
		AuthStore:   db,
		SignalStore: db,
		Pinger:      db,
		JWTManager:  jwtMgr,
		Logger:      logger,
		Metrics:     server.NewMetrics(registry),
		Version:     Version,
	})

	srv := server.New(server.Config{
		Addr:               fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		IdleTimeout:        2 * cfg.ReadTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, handlers, registry, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		srv:      srv,
		alerts:   dispatcher,
		dead:     deadletter,
		recon:    reconciler,
		otelStop: otelStop,
	}, nil
}

// Run serves until ctx is canceled, then drains alerts, flushes telemetry
// and closes the store.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.alerts.Start(runCtx)

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(a.srv.Start)
	if a.cfg.ReconcileInterval > 0 {
		group.Go(func() error {
			a.reconcileLoop(groupCtx)
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	err := group.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	a.alerts.Drain(drainCtx)
	if a.dead != nil {
		if cerr := a.dead.Close(); cerr != nil {
			a.logger.Warn("deadletter close failed", "error", cerr)
		}
	}
	if oerr := a.otelStop(drainCtx); oerr != nil {
		a.logger.Warn("telemetry shutdown failed", "error", oerr)
	}
	a.db.Close()

	return err
}

// reconcileLoop runs the reconciler for every tenant on the configured
// interval. In-progress conflicts and per-tenant failures are logged and
// skipped.
func (a *App) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := a.db.ListTenants(ctx)
			if err != nil {
				a.logger.Warn("reconcile scheduler: list tenants failed", "error", err)
				continue
			}
			for _, t := range tenants {
				run, err := a.recon.Run(ctx, t.ID, 1)
				if err != nil {
					a.logger.Warn("reconcile scheduler: run failed",
						"tenant_id", t.ID, "error", err)
					continue
				}
				a.logger.Info("reconcile scheduler: run finished",
					"tenant_id", t.ID,
					"reconcile_id", run.ReconcileID,
					"status", run.Status,
					"missing", run.MissingCount,
					"replayed", run.ReplayedCount)
			}
		}
	}
}

// logLevel maps the configured level name onto slog. Unknown names mean Info.
func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// bootstrapTenant ensures the default tenant exists and, when an admin API
// key is configured, that the key is stored hashed under it.
func bootstrapTenant(ctx context.Context, db *storage.DB, cfg config.Config, logger *slog.Logger) error {
	tenant, err := db.GetTenantBySlug(ctx, "default")
	if err != nil {
		tenant, err = db.CreateTenant(ctx, "Default", "default")
		if err != nil {
			return fmt.Errorf("bootstrap default tenant: %w", err)
		}
		logger.Info("created default tenant", "tenant_id", tenant.ID)
	}

	if cfg.AdminAPIKey == "" {
		return nil
	}
	if len(cfg.AdminAPIKey) < 12 {
		return fmt.Errorf("bootstrap admin key: key too short")
	}
	prefix := cfg.AdminAPIKey[:12]

	existing, err := db.APIKeysByPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("bootstrap admin key: %w", err)
	}
	for _, k := range existing {
		if ok, _ := auth.VerifyAPIKey(cfg.AdminAPIKey, k.KeyHash); ok {
			return nil
		}
	}

	hash, err := auth.HashAPIKey(cfg.AdminAPIKey)
	if err != nil {
		return fmt.Errorf("bootstrap admin key: %w", err)
	}
	if _, err := db.InsertAPIKey(ctx, model.APIKey{
		TenantID:    tenant.ID,
		KeyPrefix:   prefix,
		KeyHash:     hash,
		Description: "bootstrap admin key",
	}); err != nil {
		return fmt.Errorf("bootstrap admin key: %w", err)
	}
	logger.Info("stored bootstrap admin api key", "tenant_id", tenant.ID, "key_prefix", prefix)
	return nil
}
