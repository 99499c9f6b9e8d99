package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riskcast/riskcast/internal/ratelimit"
)

// Config holds HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RateLimitPerMinute / RateLimitBurst apply per tenant on authenticated
	// routes and per IP on the token endpoint. Zero disables limiting.
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Server is the RiskCast HTTP server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	limiter    ratelimit.Limiter
	logger     *slog.Logger
}

// New builds the server with its full route table and middleware chain.
// registry may be nil to use the default Prometheus registry.
func New(cfg Config, handlers *Handlers, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitPerMinute > 0 && cfg.RateLimitBurst > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}

	s := &Server{
		handlers: handlers,
		limiter:  limiter,
		logger:   logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux, registry)

	// Outermost first: request id, hardening headers, tracing, logging, auth,
	// panic recovery, then the mux.
	var root http.Handler = mux
	root = recoveryMiddleware(logger, root)
	root = handlers.authMiddleware(root)
	root = loggingMiddleware(logger, root)
	root = tracingMiddleware(root)
	root = securityHeadersMiddleware(root)
	root = requestIDMiddleware(root)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux, registry *prometheus.Registry) {
	h := s.handlers

	limitByIP := ratelimit.Middleware(s.limiter, func(r *http.Request) string {
		return "ip:" + ratelimit.IPKeyFunc(r)
	}, requestIDFromRequest)
	limitByTenant := ratelimit.Middleware(s.limiter, tenantKeyFunc, requestIDFromRequest)

	mux.HandleFunc("GET /health", h.HandleHealth)
	if registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.Handle("POST /auth/token", limitByIP(http.HandlerFunc(h.HandleAuthToken)))
	mux.Handle("POST /v1/keys", limitByTenant(http.HandlerFunc(h.HandleCreateKey)))
	mux.Handle("DELETE /v1/keys/{id}", limitByTenant(http.HandlerFunc(h.HandleRevokeKey)))

	mux.Handle("POST /v1/signals/ingest", limitByTenant(http.HandlerFunc(h.HandleIngestSignal)))
	mux.Handle("GET /v1/signals", limitByTenant(http.HandlerFunc(h.HandleListSignals)))
	mux.Handle("GET /v1/signals/{signal_id}", limitByTenant(http.HandlerFunc(h.HandleGetSignal)))

	mux.Handle("POST /v1/reconcile/run", limitByTenant(http.HandlerFunc(h.HandleReconcileRun)))
	mux.Handle("GET /v1/reconcile/status", limitByTenant(http.HandlerFunc(h.HandleReconcileStatus)))
	mux.Handle("GET /v1/reconcile/status/{date}", limitByTenant(http.HandlerFunc(h.HandleReconcileStatus)))
	mux.Handle("GET /v1/reconcile/history/{date}", limitByTenant(http.HandlerFunc(h.HandleReconcileHistory)))

	mux.Handle("GET /v1/pipeline/health", limitByTenant(http.HandlerFunc(h.HandlePipelineHealth)))
	mux.Handle("GET /v1/pipeline/integrity", limitByTenant(http.HandlerFunc(h.HandlePipelineIntegrity)))
	mux.Handle("GET /v1/pipeline/coverage", limitByTenant(http.HandlerFunc(h.HandlePipelineCoverage)))
	mux.Handle("GET /v1/pipeline/trace/signal/{signal_id}", limitByTenant(http.HandlerFunc(h.HandleTraceSignal)))
	mux.Handle("GET /v1/pipeline/trace/decision/{decision_id}", limitByTenant(http.HandlerFunc(h.HandleTraceDecision)))

	mux.Handle("GET /v1/assessments/{entity_type}/{entity_id}", limitByTenant(http.HandlerFunc(h.HandleGetAssessment)))
	mux.Handle("POST /v1/decisions/batch", limitByTenant(http.HandlerFunc(h.HandleGenerateDecisionBatch)))
	mux.Handle("POST /v1/decisions/{entity_type}/{entity_id}", limitByTenant(http.HandlerFunc(h.HandleGenerateDecision)))

	mux.Handle("POST /v1/outcomes", limitByTenant(http.HandlerFunc(h.HandleRecordOutcome)))
	mux.Handle("GET /v1/outcomes/accuracy", limitByTenant(http.HandlerFunc(h.HandleAccuracyReport)))
	mux.Handle("GET /v1/outcomes/roi", limitByTenant(http.HandlerFunc(h.HandleROIReport)))
	mux.Handle("GET /v1/outcomes/{decision_id}", limitByTenant(http.HandlerFunc(h.HandleGetOutcome)))

	mux.Handle("GET /v1/audit-trail", limitByTenant(http.HandlerFunc(h.HandleListAuditTrail)))
	mux.Handle("GET /v1/audit-trail/integrity", limitByTenant(http.HandlerFunc(h.HandleVerifyAuditChain)))

	mux.Handle("POST /v1/flywheel/run", limitByTenant(http.HandlerFunc(h.HandleFlywheelRun)))
	mux.Handle("GET /v1/flywheel/priors", limitByTenant(http.HandlerFunc(h.HandleListPriors)))
}

// tenantKeyFunc keys rate limiting by the authenticated tenant.
func tenantKeyFunc(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return "tenant:" + claims.TenantID.String()
	}
	return ""
}

func requestIDFromRequest(r *http.Request) string {
	return RequestIDFromContext(r.Context())
}

// Handler exposes the fully wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	defer func() { _ = s.limiter.Close() }()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
