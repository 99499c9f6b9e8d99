package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/audit"
	"github.com/riskcast/riskcast/internal/auth"
	"github.com/riskcast/riskcast/internal/decision"
	"github.com/riskcast/riskcast/internal/flywheel"
	"github.com/riskcast/riskcast/internal/ingest"
	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/outcome"
	"github.com/riskcast/riskcast/internal/pipeline"
	"github.com/riskcast/riskcast/internal/reconcile"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20 // 1 MiB

// IngestService accepts signal events from upstream producers.
type IngestService interface {
	Ingest(ctx context.Context, tenantID uuid.UUID, event model.SignalEvent) (string, ingest.Status, error)
}

// ReconcileService compares the ledger against the primary store.
type ReconcileService interface {
	Run(ctx context.Context, tenantID uuid.UUID, sinceDays int) (model.ReconcileRun, error)
	Status(ctx context.Context, tenantID uuid.UUID) (reconcile.StatusResult, error)
	StatusOn(ctx context.Context, tenantID uuid.UUID, day time.Time) (reconcile.StatusResult, error)
	History(ctx context.Context, tenantID uuid.UUID, day time.Time) ([]model.ReconcileRun, error)
}

// MonitorService reports pipeline freshness and lag.
type MonitorService interface {
	Health(ctx context.Context, tenantID uuid.UUID) (pipeline.HealthReport, error)
}

// IntegrityService cross-checks ledger, primary store and audit trail.
type IntegrityService interface {
	Check(ctx context.Context, tenantID uuid.UUID, windowHours int) (pipeline.IntegrityReport, error)
}

// TracerService follows individual signals and decisions through the pipeline.
type TracerService interface {
	TraceSignal(ctx context.Context, tenantID uuid.UUID, signalID string) (pipeline.SignalTrace, error)
	TraceDecision(ctx context.Context, tenantID uuid.UUID, decisionID string) (pipeline.DecisionTrace, error)
	PipelineCoverage(ctx context.Context, tenantID uuid.UUID, windowHours int) (pipeline.Coverage, error)
}

// RiskService produces risk assessments for single entities.
type RiskService interface {
	Assess(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, entityID string) (model.Assessment, error)
}

// DecisionService generates ranked decisions from assessments.
type DecisionService interface {
	Generate(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, entityID string, exposure float64) (model.Decision, error)
	GenerateForCompany(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, minSeverity float64, limit int) ([]model.Decision, error)
}

// OutcomeService records realized outcomes and reports on model accuracy.
type OutcomeService interface {
	Record(ctx context.Context, tenantID uuid.UUID, req model.RecordOutcomeRequest, predicted model.PredictedSnapshot) (model.OutcomeRecord, error)
	Get(ctx context.Context, tenantID uuid.UUID, decisionID string) (model.OutcomeRecord, error)
	Accuracy(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (model.AccuracyReport, error)
	ROI(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (model.ROIReport, error)
}

// FlywheelService recalibrates risk priors from observed outcomes.
type FlywheelService interface {
	Run(ctx context.Context, tenantID uuid.UUID) (flywheel.RunResult, error)
	Priors(ctx context.Context, tenantID uuid.UUID) ([]model.RiskPrior, error)
}

// AuditService verifies the tamper-evident audit chain.
type AuditService interface {
	VerifyChain(ctx context.Context) (model.ChainVerification, error)
}

// AuditLogger appends best-effort entries to the audit chain.
type AuditLogger interface {
	Log(ctx context.Context, ev audit.Event)
}

// AuditStore lists persisted audit entries.
type AuditStore interface {
	ListAuditEntries(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.AuditEntry, int, error)
}

// SignalStore reads ingested signals for operator queries.
type SignalStore interface {
	GetSignal(ctx context.Context, tenantID uuid.UUID, signalID string) (model.Signal, error)
	ListSignalsSince(ctx context.Context, tenantID uuid.UUID, t time.Time, category string, limit int) ([]model.Signal, error)
}

// AuthStore resolves and manages API keys.
type AuthStore interface {
	APIKeysByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error)
	InsertAPIKey(ctx context.Context, k model.APIKey) (model.APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, keyID uuid.UUID) error
}

// Pinger reports backing-store liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlersDeps carries the dependencies for the HTTP handlers.
type HandlersDeps struct {
	Ingest    IngestService
	Reconcile ReconcileService
	Monitor   MonitorService
	Integrity IntegrityService
	Tracer    TracerService
	Risk      RiskService
	Decision  DecisionService
	Outcome   OutcomeService
	Flywheel  FlywheelService
	Audit     AuditService

	AuditLog    AuditLogger // nil disables the audit hook on mutating routes
	AuditStore  AuditStore
	AuthStore   AuthStore
	SignalStore SignalStore
	Pinger      Pinger

	JWTManager *auth.JWTManager
	Logger     *slog.Logger
	Metrics    *Metrics // nil disables scrape-side instruments
	Version    string
}

// Handlers holds the HTTP handler implementations.
type Handlers struct {
	ingest    IngestService
	reconcile ReconcileService
	monitor   MonitorService
	integrity IntegrityService
	tracer    TracerService
	risk      RiskService
	decision  DecisionService
	outcome   OutcomeService
	flywheel  FlywheelService
	audit     AuditService

	auditLog   AuditLogger
	auditStore AuditStore
	authStore  AuthStore
	signals    SignalStore
	pinger     Pinger

	jwtMgr  *auth.JWTManager
	logger  *slog.Logger
	metrics *Metrics
	version string
	started time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		ingest:     deps.Ingest,
		reconcile:  deps.Reconcile,
		monitor:    deps.Monitor,
		integrity:  deps.Integrity,
		tracer:     deps.Tracer,
		risk:       deps.Risk,
		decision:   deps.Decision,
		outcome:    deps.Outcome,
		flywheel:   deps.Flywheel,
		audit:      deps.Audit,
		auditLog:   deps.AuditLog,
		auditStore: deps.AuditStore,
		authStore:  deps.AuthStore,
		signals:    deps.SignalStore,
		pinger:     deps.Pinger,
		jwtMgr:     deps.JWTManager,
		logger:     logger,
		metrics:    deps.Metrics,
		version:    deps.Version,
		started:    time.Now(),
	}
}

// auditEvent appends a best-effort audit entry for a mutating request.
func (h *Handlers) auditEvent(r *http.Request, action, resource string, details map[string]any) {
	if h.auditLog == nil {
		return
	}
	ev := audit.Event{
		Action:   action,
		Resource: resource,
		Outcome:  model.AuditSuccess,
		Details:  details,
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		tid := claims.TenantID
		ev.TenantID = &tid
		ev.Actor = claims.Actor
	}
	h.auditLog.Log(r.Context(), ev)
}

// tenantFromContext returns the authenticated tenant, or writes a 401 and
// reports false.
func (h *Handlers) tenantFromContext(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil || claims.TenantID == uuid.Nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing credentials")
		return uuid.Nil, false
	}
	return claims.TenantID, true
}

// HandleHealth reports process and dependency liveness. Degraded storage
// yields 503 so load balancers can rotate the instance out.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:        "ok",
		Version:       h.version,
		Postgres:      "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	status := http.StatusOK

	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Postgres = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, status, resp)
}

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	TenantID  uuid.UUID `json:"tenant_id"`
}

// HandleAuthToken exchanges an API key for a short-lived bearer token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.APIKey == "" {
		writeValidationError(w, r, "api_key", "api_key is required")
		return
	}

	claims, ok := h.verifyAPIKey(r.Context(), req.APIKey)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(claims.TenantID, claims.Actor, claims.APIKeyID)
	if err != nil {
		h.serverError(w, r, "issue token", err)
		return
	}
	writeJSON(w, r, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		TenantID:  claims.TenantID,
	})
}

type createKeyRequest struct {
	Description string `json:"description"`
}

type createKeyResponse struct {
	ID          uuid.UUID `json:"id"`
	Key         string    `json:"key"` // shown once; only the hash is stored
	KeyPrefix   string    `json:"key_prefix"`
	Description string    `json:"description"`
}

// HandleCreateKey mints a new API key for the caller's tenant.
func (h *Handlers) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	var req createKeyRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	key, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		h.serverError(w, r, "generate api key", err)
		return
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		h.serverError(w, r, "hash api key", err)
		return
	}

	stored, err := h.authStore.InsertAPIKey(r.Context(), model.APIKey{
		TenantID:    tenantID,
		KeyPrefix:   prefix,
		KeyHash:     hash,
		Description: req.Description,
	})
	if err != nil {
		h.serverError(w, r, "store api key", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, createKeyResponse{
		ID:          stored.ID,
		Key:         key,
		KeyPrefix:   stored.KeyPrefix,
		Description: stored.Description,
	})
}

// HandleRevokeKey revokes an API key owned by the caller's tenant.
func (h *Handlers) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeValidationError(w, r, "id", "id must be a UUID")
		return
	}
	if err := h.authStore.RevokeAPIKey(r.Context(), tenantID, keyID); err != nil {
		h.handleServiceError(w, r, "revoke api key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Compile-time interface checks against the concrete services.
var (
	_ IngestService    = (*ingest.Pipeline)(nil)
	_ ReconcileService = (*reconcile.Reconciler)(nil)
	_ MonitorService   = (*pipeline.Monitor)(nil)
	_ IntegrityService = (*pipeline.Checker)(nil)
	_ TracerService    = (*pipeline.Tracer)(nil)
	_ DecisionService  = (*decision.Engine)(nil)
	_ OutcomeService   = (*outcome.Service)(nil)
	_ FlywheelService  = (*flywheel.Service)(nil)
)
