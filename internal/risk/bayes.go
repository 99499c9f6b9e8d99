package risk

import "math"

// Score at or above which a decayed signal counts as a bad outcome for the
// Beta-Binomial update.
const badOutcomeScore = 70.0

// Signals needed before the posterior is considered reliable.
const reliableMinObservations = 5

// BayesResult is the Stage D output: a Beta posterior over the
// materialization rate.
type BayesResult struct {
	PriorAlpha     float64 `json:"prior_alpha"`
	PriorBeta      float64 `json:"prior_beta"`
	BadOutcomes    int     `json:"bad_outcomes"`
	GoodOutcomes   int     `json:"good_outcomes"`
	PosteriorAlpha float64 `json:"posterior_alpha"`
	PosteriorBeta  float64 `json:"posterior_beta"`
	Mean           float64 `json:"mean"`
	Variance       float64 `json:"variance"`
	CILower        float64 `json:"ci_lower"`
	CIUpper        float64 `json:"ci_upper"`
	Confidence     float64 `json:"confidence"`
	IsReliable     bool    `json:"is_reliable"`
}

// Posterior updates the Beta prior with the decayed signal evidence.
// alpha and beta default to the configured priors when no flywheel-updated
// values are supplied (pass <= 0 to use defaults).
func (p Params) Posterior(signals []DecayedSignal, alpha, beta float64) BayesResult {
	if alpha <= 0 {
		alpha = p.PriorAlpha
	}
	if beta <= 0 {
		beta = p.PriorBeta
	}

	var bad int
	for _, s := range signals {
		if s.DecayedScore >= badOutcomeScore {
			bad++
		}
	}
	good := len(signals) - bad

	r := BayesResult{
		PriorAlpha:     alpha,
		PriorBeta:      beta,
		BadOutcomes:    bad,
		GoodOutcomes:   good,
		PosteriorAlpha: alpha + float64(bad),
		PosteriorBeta:  beta + float64(good),
		IsReliable:     bad+good >= reliableMinObservations,
	}

	n := r.PosteriorAlpha + r.PosteriorBeta
	r.Mean = r.PosteriorAlpha / n
	r.Variance = (r.PosteriorAlpha * r.PosteriorBeta) / (n * n * (n + 1))

	sigma := math.Sqrt(r.Variance)
	if n > 50 {
		// Normal approximation at 95%.
		r.CILower = clamp(r.Mean-1.96*sigma, 0, 1)
		r.CIUpper = clamp(r.Mean+1.96*sigma, 0, 1)
	} else {
		r.CILower = clamp(r.Mean-2*sigma, 0, 1)
		r.CIUpper = clamp(r.Mean+2*sigma, 0, 1)
	}

	// Confidence narrows with the credible interval.
	r.Confidence = clamp(1-(r.CIUpper-r.CILower), 0.05, 1)
	return r
}
