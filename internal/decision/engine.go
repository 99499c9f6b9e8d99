package decision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/alerts"
	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/risk"
	"github.com/riskcast/riskcast/internal/storage"
)

// Assumed delivery horizon when the caller has none on record.
const defaultDeliveryDays = 14.0

// How long a generated decision stays actionable.
const decisionValidity = 24 * time.Hour

// Assessor produces the risk picture a decision is built on.
type Assessor interface {
	Assess(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, entityID string) (model.Assessment, error)
}

// Store is the persistence surface the decision engine reads.
type Store interface {
	AvgSeverityForEntity(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, entityID string) (float64, error)
	DistinctRiskyEntities(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, minSeverity float64, limit int) ([]storage.RiskyEntity, error)
}

// Config carries the decision-engine knobs.
type Config struct {
	Thresholds    EscalationThresholds
	ExposureScale float64 // exposure estimate = avg severity × scale
	AlertOn       bool
}

// Engine generates decisions on top of assessments.
type Engine struct {
	assessor Assessor
	store    Store
	alerts   *alerts.Dispatcher // nil disables
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewEngine creates a decision engine. dispatcher may be nil.
func NewEngine(assessor Assessor, store Store, dispatcher *alerts.Dispatcher, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		assessor: assessor,
		store:    store,
		alerts:   dispatcher,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    NewDecisionID,
	}
}

// NewDecisionID returns a fresh decision id: "dec_" plus 16 hex chars.
func NewDecisionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("decision: read random bytes: %v", err))
	}
	return "dec_" + hex.EncodeToString(b[:])
}

// Generate assesses the entity and assembles the full decision. exposure <= 0
// asks the engine to estimate it from the entity's signal severities.
func (e *Engine) Generate(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, entityID string, exposure float64) (model.Decision, error) {
	assessment, err := e.assessor.Assess(ctx, tenantID, entityType, entityID)
	if err != nil {
		return model.Decision{}, fmt.Errorf("decision: assess: %w", err)
	}

	if exposure <= 0 {
		avg, err := e.store.AvgSeverityForEntity(ctx, tenantID, entityType, entityID)
		if err != nil {
			return model.Decision{}, fmt.Errorf("decision: estimate exposure: %w", err)
		}
		exposure = avg * e.cfg.ExposureScale
	}

	score := assessment.RiskScore
	inactionCost := exposure * score / 100

	actions := GenerateActions(score, exposure, defaultDeliveryDays, assessment.IsReliable)
	tradeoff := Rank(actions, inactionCost)

	recommended := tradeoff.Ranked[0].Action
	if tradeoff.FellBack {
		for _, r := range tradeoff.Ranked {
			if r.Action.Type == model.ActionMonitor {
				recommended = r.Action
				break
			}
		}
	}
	var alternatives []model.Action
	for _, r := range tradeoff.Ranked {
		if r.Action.Type != recommended.Type {
			alternatives = append(alternatives, r.Action)
		}
	}

	disagreement := ensembleDisagreement(assessment)
	rules, needsReview := EvaluateEscalation(e.cfg.Thresholds,
		exposure, assessment.Confidence, score, disagreement, assessment.IsReliable)
	needsReview = needsReview || assessment.NeedsHumanReview

	status := model.DecisionRecommended
	if needsReview {
		status = model.DecisionEscalated
	}

	now := e.now().UTC()
	d := model.Decision{
		DecisionID: e.newID(),
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,

		Severity:   assessment.Severity,
		Situation:  assessment.Summary,
		RiskScore:  score,
		Confidence: assessment.Confidence,
		CILower:    assessment.CILower,
		CIUpper:    assessment.CIUpper,
		Status:     status,

		Recommended:     recommended,
		Alternatives:    alternatives,
		Tradeoff:        tradeoff,
		InactionCost:    inactionCost,
		Counterfactuals: Counterfactuals(score, exposure),

		NeedsHumanReview: needsReview,
		EscalationRules:  rules,

		AlgorithmTrace: map[string]any{
			"assessment":     assessment.AlgorithmTrace,
			"exposure_usd":   exposure,
			"inaction_cost":  inactionCost,
			"delivery_days":  defaultDeliveryDays,
			"n_actions":      len(actions),
			"fell_back":      tradeoff.FellBack,
		},
		DataSources: []string{"internal_signals"},

		GeneratedAt: now,
		ValidUntil:  now.Add(decisionValidity),
	}

	e.fireAlert(d)
	return d, nil
}

// GenerateForCompany generates decisions for every distinct entity whose
// worst active severity meets minSeverity, ordered by that severity, up to
// limit. Individual failures are logged and skipped.
func (e *Engine) GenerateForCompany(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, minSeverity float64, limit int) ([]model.Decision, error) {
	entities, err := e.store.DistinctRiskyEntities(ctx, tenantID, entityType, minSeverity, limit)
	if err != nil {
		return nil, fmt.Errorf("decision: list risky entities: %w", err)
	}

	decisions := make([]model.Decision, 0, len(entities))
	for _, ent := range entities {
		d, err := e.Generate(ctx, tenantID, entityType, ent.EntityID, 0)
		if err != nil {
			e.logger.Warn("decision: generate failed, skipping entity",
				"entity_type", entityType, "entity_id", ent.EntityID, "error", err)
			continue
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

func (e *Engine) fireAlert(d model.Decision) {
	if e.alerts == nil || !e.cfg.AlertOn {
		return
	}
	severity := alerts.SeverityInfo
	if d.Status == model.DecisionEscalated {
		severity = alerts.SeverityHigh
	}
	e.alerts.Enqueue(alerts.Alert{
		TenantID: d.TenantID,
		Kind:     "decision.generated",
		Severity: severity,
		Title:    fmt.Sprintf("%s decision for %s %s", d.Recommended.Type, d.EntityType, d.EntityID),
		Details: map[string]any{
			"decision_id": d.DecisionID,
			"risk_score":  d.RiskScore,
			"status":      d.Status,
		},
	})
}

// ensembleDisagreement pulls the Stage E disagreement out of the assessment
// trace; zero when absent (e.g. empty-input assessments).
func ensembleDisagreement(a model.Assessment) float64 {
	if v, ok := a.AlgorithmTrace["ensemble"]; ok {
		if ens, ok := v.(risk.EnsembleResult); ok {
			return ens.Disagreement
		}
	}
	return 0
}
