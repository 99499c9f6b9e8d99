package decision

import "github.com/riskcast/riskcast/internal/model"

// EscalationThresholds are the five human-review triggers.
type EscalationThresholds struct {
	ExposureUSD   float64
	MinConfidence float64
	RiskScore     float64
	Disagreement  float64
}

// EvaluateEscalation runs every rule and reports each with its threshold and
// actual value. A decision needs human review iff any rule triggers.
func EvaluateEscalation(t EscalationThresholds, exposure, confidence, riskScore, disagreement float64, reliable bool) ([]model.EscalationRule, bool) {
	reliability := 1.0
	if !reliable {
		reliability = 0
	}

	rules := []model.EscalationRule{
		{
			Name:      "high_exposure",
			Threshold: t.ExposureUSD,
			Actual:    exposure,
			Triggered: exposure >= t.ExposureUSD,
		},
		{
			Name:      "low_confidence",
			Threshold: t.MinConfidence,
			Actual:    confidence,
			Triggered: confidence < t.MinConfidence,
		},
		{
			Name:      "high_risk_score",
			Threshold: t.RiskScore,
			Actual:    riskScore,
			Triggered: riskScore >= t.RiskScore,
		},
		{
			Name:      "model_disagreement",
			Threshold: t.Disagreement,
			Actual:    disagreement,
			Triggered: disagreement >= t.Disagreement,
		},
		{
			Name:      "unreliable_assessment",
			Threshold: 1,
			Actual:    reliability,
			Triggered: !reliable,
		},
	}

	needsReview := false
	for _, r := range rules {
		if r.Triggered {
			needsReview = true
			break
		}
	}
	return rules, needsReview
}
