package risk

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

func testParams() Params {
	return Params{
		HalfLivesHours: map[string]float64{
			"payment_risk":         720,
			"route_disruption":     168,
			"order_risk_composite": 336,
			"market_volatility":    72,
			"port_closure":         48,
			"weather_alert":        24,
		},
		DefaultHalfLifeHours: 168,
		DecayMinWeight:       0.01,
		CorrelationThreshold: 0.5,
		CorrelationDiscount:  0.5,
		FusionWeights: map[string]float64{
			"payment_risk":              0.30,
			"route_disruption":          0.25,
			"order_risk_composite":      0.20,
			"customer_creditworthiness": 0.15,
			"market_volatility":         0.10,
		},
		PriorAlpha:           2,
		PriorBeta:            5,
		EnsembleFusionWeight: 0.6,
		EnsembleBayesWeight:  0.4,
		SeverityCritical:     75,
		SeverityHigh:         50,
		SeverityModerate:     25,
	}
}

func internalSignal(signalType, entityID string, severity, confidence float64, age time.Duration, now time.Time) model.InternalSignal {
	return model.InternalSignal{
		ID:            uuid.New(),
		SignalType:    signalType,
		EntityType:    model.EntityOrder,
		EntityID:      entityID,
		Confidence:    confidence,
		SeverityScore: severity,
		Active:        true,
		CreatedAt:     now.Add(-age),
	}
}

func TestDecayHalfLife(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := testParams()

	// One half-life old: weight 0.5, score halves.
	s := internalSignal("weather_alert", "order-1", 80, 0.9, 24*time.Hour, now)
	result := p.Decay([]model.InternalSignal{s}, now)
	require.Len(t, result.Active, 1)
	assert.InDelta(t, 0.5, result.Active[0].Weight, 1e-9)
	assert.InDelta(t, 40, result.Active[0].DecayedScore, 1e-9)
	assert.Equal(t, model.FreshnessAging, result.Freshness)
}

func TestDecayExpiresAncientSignals(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := testParams()

	// weather_alert half-life 24h: after 7 half-lives weight < 0.01.
	old := internalSignal("weather_alert", "order-1", 80, 0.9, 7*24*time.Hour, now)
	fresh := internalSignal("payment_risk", "order-1", 60, 0.8, time.Hour, now)
	result := p.Decay([]model.InternalSignal{old, fresh}, now)

	require.Len(t, result.Signals, 2)
	assert.True(t, result.Signals[0].Expired)
	require.Len(t, result.Active, 1)
	assert.Equal(t, "payment_risk", result.Active[0].Signal.SignalType)
	assert.Equal(t, model.FreshnessFresh, result.Freshness)
}

func TestDecayEmptyInput(t *testing.T) {
	result := testParams().Decay(nil, time.Now())
	assert.Empty(t, result.Active)
	assert.Equal(t, model.FreshnessStale, result.Freshness)
}

func TestCorrelateDiscountsWeakerSignal(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := testParams()

	// Both types appear on the same single entity: Jaccard = 1.
	signals := p.Decay([]model.InternalSignal{
		internalSignal("route_disruption", "order-1", 80, 0.9, 0, now),
		internalSignal("port_closure", "order-1", 60, 0.8, 0, now),
	}, now)

	result := p.Correlate(signals.Active)
	require.Len(t, result.Correlations, 1)
	assert.InDelta(t, 1.0, result.Correlations[0].Jaccard, 1e-9)
	assert.Equal(t, 1, result.Correlations[0].Discounted)

	// Weaker signal (port_closure, 60) is halved: 60 · (1 − 0.5·1) = 30.
	var portScore, routeScore float64
	for _, s := range result.Signals {
		switch s.Signal.SignalType {
		case "port_closure":
			portScore = s.DecayedScore
		case "route_disruption":
			routeScore = s.DecayedScore
		}
	}
	assert.InDelta(t, 30, portScore, 1e-9)
	assert.InDelta(t, 80, routeScore, 1e-9)
}

func TestCorrelateDiscountsOncePerSignal(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := testParams()

	// Three types on one entity: every pair correlates with Jaccard = 1.
	signals := p.Decay([]model.InternalSignal{
		internalSignal("payment_risk", "ORD-42", 72, 0.85, 6*time.Hour, now),
		internalSignal("route_disruption", "ORD-42", 55, 0.70, 48*time.Hour, now),
		internalSignal("order_risk_composite", "ORD-42", 48, 0.60, 120*time.Hour, now),
	}, now)
	require.Len(t, signals.Active, 3)

	result := p.Correlate(signals.Active)
	require.Len(t, result.Correlations, 3)

	scores := make(map[string]float64)
	for _, s := range result.Signals {
		scores[s.Signal.SignalType] = s.DecayedScore
	}

	// The strongest signal is never discounted; each weaker signal is halved
	// exactly once even though it sits in two correlated pairs.
	payment := 72 * math.Exp2(-6.0/720)
	route := 55 * math.Exp2(-48.0/168)
	composite := 48 * math.Exp2(-120.0/336)
	assert.InDelta(t, payment, scores["payment_risk"], 1e-9)
	assert.InDelta(t, route/2, scores["route_disruption"], 1e-9)
	assert.InDelta(t, composite/2, scores["order_risk_composite"], 1e-9)

	var discounted int
	for _, c := range result.Correlations {
		discounted += c.Discounted
	}
	assert.Equal(t, 2, discounted)
}

func TestCorrelateBelowThresholdUntouched(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := testParams()

	// Types share 1 of 3 entities: Jaccard = 1/3 < 0.5.
	signals := p.Decay([]model.InternalSignal{
		internalSignal("route_disruption", "order-1", 80, 0.9, 0, now),
		internalSignal("route_disruption", "order-2", 70, 0.9, 0, now),
		internalSignal("port_closure", "order-1", 60, 0.8, 0, now),
		internalSignal("port_closure", "order-3", 50, 0.8, 0, now),
	}, now)

	result := p.Correlate(signals.Active)
	assert.Empty(t, result.Correlations)
	for _, s := range result.Signals {
		assert.InDelta(t, s.Signal.SeverityScore, s.DecayedScore, 1e-9)
	}
}

func TestFuseSingleSignal(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := testParams()

	signals := p.Decay([]model.InternalSignal{
		internalSignal("payment_risk", "order-1", 64, 0.8, 0, now),
	}, now)
	fusion := p.Fuse(signals.Active)

	assert.InDelta(t, 64, fusion.Score, 1e-9)
	assert.InDelta(t, 0.8, fusion.Confidence, 1e-9)
	require.Len(t, fusion.Factors, 1)
	assert.InDelta(t, 100, fusion.Factors[0].PctContribution, 1e-9)
	// Single type renormalizes to weight 1.
	assert.InDelta(t, 1.0, fusion.Factors[0].Weight, 1e-9)
}

func TestFuseContributionsSumToHundred(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := testParams()

	signals := p.Decay([]model.InternalSignal{
		internalSignal("payment_risk", "order-1", 80, 0.9, 0, now),
		internalSignal("route_disruption", "order-1", 55, 0.7, 0, now),
		internalSignal("market_volatility", "order-1", 30, 0.6, 0, now),
	}, now)
	fusion := p.Fuse(signals.Active)

	var sum float64
	for _, f := range fusion.Factors {
		sum += f.PctContribution
	}
	assert.InDelta(t, 100, sum, 1e-6)
	// Sorted descending by contribution.
	for i := 1; i < len(fusion.Factors); i++ {
		assert.GreaterOrEqual(t, fusion.Factors[i-1].PctContribution, fusion.Factors[i].PctContribution)
	}
	assert.True(t, fusion.CIUpper >= fusion.Score && fusion.Score >= fusion.CILower)
}

func TestPosteriorCounts(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := testParams()

	signals := p.Decay([]model.InternalSignal{
		internalSignal("payment_risk", "order-1", 90, 0.9, 0, now),
		internalSignal("route_disruption", "order-1", 75, 0.8, 0, now),
		internalSignal("market_volatility", "order-1", 20, 0.6, 0, now),
	}, now)

	bayes := p.Posterior(signals.Active, 0, 0)
	assert.Equal(t, 2, bayes.BadOutcomes)
	assert.Equal(t, 1, bayes.GoodOutcomes)
	assert.InDelta(t, 4, bayes.PosteriorAlpha, 1e-9)
	assert.InDelta(t, 6, bayes.PosteriorBeta, 1e-9)
	assert.InDelta(t, 0.4, bayes.Mean, 1e-9)
	assert.False(t, bayes.IsReliable)

	// Variance of Beta(4,6).
	wantVar := 4.0 * 6.0 / (100.0 * 11.0)
	assert.InDelta(t, wantVar, bayes.Variance, 1e-9)
	sigma := math.Sqrt(wantVar)
	assert.InDelta(t, 0.4-2*sigma, bayes.CILower, 1e-9)
}

func TestPosteriorReliabilityThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := testParams()

	var in []model.InternalSignal
	for i := 0; i < 5; i++ {
		in = append(in, internalSignal("payment_risk", "order-1", 40, 0.8, 0, now))
	}
	signals := p.Decay(in, now)
	assert.True(t, p.Posterior(signals.Active, 0, 0).IsReliable)
}

func TestEnsembleDisagreement(t *testing.T) {
	p := testParams()

	fusion := FusionResult{Score: 80, Confidence: 0.9}
	bayes := BayesResult{Mean: 0.2, Confidence: 0.9}
	r := p.Ensemble(fusion, bayes)

	// stdev of {80, 20} = 30.
	assert.InDelta(t, 30, r.Disagreement, 1e-9)
	assert.Equal(t, DisagreementHigh, r.DisagreementLabel)
	assert.True(t, r.NeedsHumanReview)
	// Equal confidences: blend follows the 0.6/0.4 weights.
	assert.InDelta(t, 0.6*80+0.4*20, r.Score, 1e-9)
}

func TestEnsembleAgreement(t *testing.T) {
	p := testParams()
	r := p.Ensemble(FusionResult{Score: 50, Confidence: 0.8}, BayesResult{Mean: 0.5, Confidence: 0.8})

	assert.InDelta(t, 50, r.Score, 1e-9)
	assert.Zero(t, r.Disagreement)
	assert.Equal(t, DisagreementLow, r.DisagreementLabel)
	assert.False(t, r.NeedsHumanReview)
}

// fakeSources back the engine in tests.
type fakeSources struct {
	signals []model.InternalSignal
	prior   *model.RiskPrior
}

func (f *fakeSources) ListActiveInternalSignals(context.Context, uuid.UUID, model.EntityType, string) ([]model.InternalSignal, error) {
	return f.signals, nil
}

func (f *fakeSources) GetPrior(context.Context, uuid.UUID, model.EntityType) (model.RiskPrior, error) {
	if f.prior == nil {
		return model.RiskPrior{}, storage.ErrNotFound
	}
	return *f.prior, nil
}

func TestEngineEmptyInput(t *testing.T) {
	engine := NewEngine(&fakeSources{}, &fakeSources{}, testParams(), nil)

	a, err := engine.Assess(context.Background(), uuid.New(), model.EntityOrder, "order-1")
	require.NoError(t, err)
	assert.Zero(t, a.RiskScore)
	assert.False(t, a.IsReliable)
	assert.Zero(t, a.NSignals)
	assert.Equal(t, model.FreshnessStale, a.Freshness)
	assert.Equal(t, model.SeverityLow, a.Severity)
	assert.Equal(t, "none", a.PrimaryDriver)
	assert.NotEmpty(t, a.Summary)
}

func TestEngineFullAssessment(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSources{
		signals: []model.InternalSignal{
			internalSignal("payment_risk", "order-1", 85, 0.9, time.Hour, now),
			internalSignal("route_disruption", "order-1", 75, 0.8, 2*time.Hour, now),
			internalSignal("market_volatility", "order-1", 60, 0.7, 3*time.Hour, now),
			internalSignal("order_risk_composite", "order-1", 70, 0.8, time.Hour, now),
			internalSignal("customer_creditworthiness", "order-1", 65, 0.75, time.Hour, now),
		},
	}
	engine := NewEngine(src, src, testParams(), nil)

	a, err := engine.Assess(context.Background(), uuid.New(), model.EntityOrder, "order-1")
	require.NoError(t, err)

	assert.Equal(t, 5, a.NSignals)
	assert.Greater(t, a.RiskScore, 0.0)
	assert.LessOrEqual(t, a.RiskScore, 100.0)
	assert.True(t, a.IsReliable)
	assert.Equal(t, model.FreshnessFresh, a.Freshness)
	assert.NotEqual(t, "none", a.PrimaryDriver)
	assert.Len(t, a.Factors, 5)
	assert.True(t, a.CILower <= a.RiskScore && a.RiskScore <= a.CIUpper)

	// The trace carries every stage's intermediates.
	for _, key := range []string{"decay", "correlations", "fusion", "bayes", "ensemble", "calibrated_score"} {
		assert.Contains(t, a.AlgorithmTrace, key)
	}
}

func TestEngineMixedAgeOrderAssessment(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSources{
		signals: []model.InternalSignal{
			internalSignal("payment_risk", "ORD-42", 72, 0.85, 6*time.Hour, now),
			internalSignal("route_disruption", "ORD-42", 55, 0.70, 48*time.Hour, now),
			internalSignal("order_risk_composite", "ORD-42", 48, 0.60, 120*time.Hour, now),
		},
	}
	engine := NewEngine(src, src, testParams(), nil)
	engine.now = func() time.Time { return now }

	a, err := engine.Assess(context.Background(), uuid.New(), model.EntityOrder, "ORD-42")
	require.NoError(t, err)

	assert.Equal(t, 3, a.NSignals)
	assert.GreaterOrEqual(t, a.RiskScore, 40.0)
	assert.LessOrEqual(t, a.RiskScore, 80.0)
	assert.InDelta(t, 40.28, a.RiskScore, 0.05)
	assert.Equal(t, "Payment Risk", a.PrimaryDriver)
	assert.Equal(t, model.FreshnessAging, a.Freshness)

	require.Len(t, a.Factors, 3)
	assert.Equal(t, "Payment Risk", a.Factors[0].DisplayName)
	for i := 1; i < len(a.Factors); i++ {
		assert.GreaterOrEqual(t, a.Factors[i-1].PctContribution, a.Factors[i].PctContribution)
	}

	// The trace exposes the headline numbers flat, next to the full stages.
	for _, key := range []string{
		"fusion_score", "bayesian_probability", "ensemble_disagreement",
		"temporal_freshness", "n_correlated_pairs",
	} {
		assert.Contains(t, a.AlgorithmTrace, key)
	}
	// One prior bad outcome (decayed payment score 71.6) against two good:
	// Beta(3,7) posterior, mean 0.3.
	assert.InDelta(t, 0.3, a.AlgorithmTrace["bayesian_probability"].(float64), 1e-9)
	assert.Equal(t, 3, a.AlgorithmTrace["n_correlated_pairs"].(int))
	assert.Equal(t, model.FreshnessAging, a.AlgorithmTrace["temporal_freshness"].(model.FreshnessBand))
}

func TestEngineUsesFlywheelPrior(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSources{
		signals: []model.InternalSignal{
			internalSignal("payment_risk", "order-1", 90, 0.9, time.Hour, now),
		},
		prior: &model.RiskPrior{Alpha: 6, Beta: 2},
	}
	engine := NewEngine(src, src, testParams(), nil)

	a, err := engine.Assess(context.Background(), uuid.New(), model.EntityOrder, "order-1")
	require.NoError(t, err)

	trace := a.AlgorithmTrace["bayes"].(BayesResult)
	assert.InDelta(t, 6, trace.PriorAlpha, 1e-9)
	assert.InDelta(t, 2, trace.PriorBeta, 1e-9)
}
