package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

// SignalSource supplies the active internal signals for one entity.
type SignalSource interface {
	ListActiveInternalSignals(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, entityID string) ([]model.InternalSignal, error)
}

// PriorSource supplies flywheel-updated Beta priors. ErrNotFound falls back
// to the configured defaults.
type PriorSource interface {
	GetPrior(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType) (model.RiskPrior, error)
}

// Engine runs the assessment pipeline.
type Engine struct {
	signals SignalSource
	priors  PriorSource
	params  Params
	scaler  Scaler
	now     func() time.Time
}

// NewEngine creates an assessment engine. scaler may be nil for the
// identity (unfitted) scaler.
func NewEngine(signals SignalSource, priors PriorSource, params Params, scaler Scaler) *Engine {
	if scaler == nil {
		scaler = IdentityScaler{}
	}
	return &Engine{signals: signals, priors: priors, params: params, scaler: scaler, now: time.Now}
}

// Params returns the engine's configured parameters.
func (e *Engine) Params() Params { return e.params }

// Assess scores one entity from its active internal signals. It never
// errors on empty input: an entity with no signals gets a zero-risk,
// not-reliable assessment.
func (e *Engine) Assess(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, entityID string) (model.Assessment, error) {
	signals, err := e.signals.ListActiveInternalSignals(ctx, tenantID, entityType, entityID)
	if err != nil {
		return model.Assessment{}, fmt.Errorf("risk: load signals: %w", err)
	}

	alpha, beta := e.params.PriorAlpha, e.params.PriorBeta
	if e.priors != nil {
		prior, err := e.priors.GetPrior(ctx, tenantID, entityType)
		switch {
		case err == nil:
			alpha, beta = prior.Alpha, prior.Beta
		case errors.Is(err, storage.ErrNotFound):
			// keep configured defaults
		default:
			return model.Assessment{}, fmt.Errorf("risk: load prior: %w", err)
		}
	}

	return e.assess(tenantID, entityType, entityID, signals, alpha, beta), nil
}

func (e *Engine) assess(tenantID uuid.UUID, entityType model.EntityType, entityID string, signals []model.InternalSignal, alpha, beta float64) model.Assessment {
	now := e.now().UTC()

	a := model.Assessment{
		TenantID:    tenantID,
		EntityType:  entityType,
		EntityID:    entityID,
		GeneratedAt: now,
	}

	decay := e.params.Decay(signals, now)
	a.NSignals = len(decay.Active)
	a.Freshness = decay.Freshness

	if a.NSignals == 0 {
		a.Severity = model.SeverityLow
		a.PrimaryDriver = "none"
		a.Summary = summaryText("", "none", 0, 0)
		a.AlgorithmTrace = map[string]any{
			"input_signals":   len(signals),
			"expired_signals": len(signals),
			"prior_alpha":     alpha,
			"prior_beta":      beta,
		}
		return a
	}

	correlation := e.params.Correlate(decay.Active)
	fusion := e.params.Fuse(correlation.Signals)
	bayes := e.params.Posterior(correlation.Signals, alpha, beta)
	ensemble := e.params.Ensemble(fusion, bayes)

	score := ensemble.Score
	calibrated := e.scaler.Calibrate(score/100) * 100
	if e.params.ApplyCalibration && e.scaler.Fitted() {
		score = calibrated
	}

	factors, primaryDriver, band := Decompose(fusion, score)

	a.RiskScore = score
	a.Confidence = ensemble.Confidence
	a.CILower = ensemble.CILower
	a.CIUpper = ensemble.CIUpper
	a.Severity = model.SeverityFor(score, e.params.SeverityCritical, e.params.SeverityHigh, e.params.SeverityModerate)
	a.IsReliable = bayes.IsReliable
	a.NeedsHumanReview = ensemble.NeedsHumanReview
	a.PrimaryDriver = primaryDriver
	a.Factors = factors
	a.Summary = summaryText(band, primaryDriver, score, a.NSignals)
	a.AlgorithmTrace = map[string]any{
		"input_signals":         len(signals),
		"expired_signals":       len(signals) - len(decay.Active),
		"avg_age_hours":         decay.AvgAge,
		"temporal_freshness":    decay.Freshness,
		"n_correlated_pairs":    len(correlation.Correlations),
		"fusion_score":          fusion.Score,
		"bayesian_probability":  bayes.Mean,
		"ensemble_disagreement": ensemble.Disagreement,
		"decay":                 decay.Signals,
		"correlations":          correlation.Correlations,
		"fusion":                fusion,
		"bayes":                 bayes,
		"ensemble":              ensemble,
		"calibrated_score":      calibrated,
		"scaler_fitted":         e.scaler.Fitted(),
		"summary_band":          band,
	}
	return a
}
