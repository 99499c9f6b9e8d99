package risk

import "math"

// Disagreement labels.
const (
	DisagreementHigh     = "high"
	DisagreementModerate = "moderate"
	DisagreementLow      = "low"
)

// EnsembleResult is the Stage E output combining the fusion and Bayesian
// models.
type EnsembleResult struct {
	Score             float64 `json:"score"`
	Confidence        float64 `json:"confidence"`
	FusionScore       float64 `json:"fusion_score"`
	BayesScore        float64 `json:"bayes_score"`
	Disagreement      float64 `json:"disagreement"`
	DisagreementLabel string  `json:"disagreement_label"`
	NeedsHumanReview  bool    `json:"needs_human_review"`
	CILower           float64 `json:"ci_lower"`
	CIUpper           float64 `json:"ci_upper"`
}

// Ensemble blends the fusion score with the Bayesian posterior mean scaled
// to [0,100], weighting each model by its configured weight times its own
// confidence.
func (p Params) Ensemble(fusion FusionResult, bayes BayesResult) EnsembleResult {
	type member struct {
		score, weight, confidence float64
	}
	members := []member{
		{score: fusion.Score, weight: p.EnsembleFusionWeight, confidence: fusion.Confidence},
		{score: bayes.Mean * 100, weight: p.EnsembleBayesWeight, confidence: bayes.Confidence},
	}

	var num, den, confNum, weightSum float64
	for _, m := range members {
		num += m.weight * m.confidence * m.score
		den += m.weight * m.confidence
		confNum += m.weight * m.confidence
		weightSum += m.weight
	}

	r := EnsembleResult{
		FusionScore: fusion.Score,
		BayesScore:  bayes.Mean * 100,
	}
	if den > 0 {
		r.Score = num / den
	}
	if weightSum > 0 {
		r.Confidence = confNum / weightSum
	}

	// Standard deviation of the two member scores.
	mean := (r.FusionScore + r.BayesScore) / 2
	r.Disagreement = math.Sqrt(((r.FusionScore-mean)*(r.FusionScore-mean) + (r.BayesScore-mean)*(r.BayesScore-mean)) / 2)

	switch {
	case r.Disagreement >= 25:
		r.DisagreementLabel = DisagreementHigh
	case r.Disagreement >= 15:
		r.DisagreementLabel = DisagreementModerate
	default:
		r.DisagreementLabel = DisagreementLow
	}
	r.NeedsHumanReview = r.DisagreementLabel == DisagreementHigh

	r.CILower = clamp(r.Score-2*r.Disagreement, 0, 100)
	r.CIUpper = clamp(r.Score+2*r.Disagreement, 0, 100)
	return r
}
