package decision

import (
	"math"

	"github.com/riskcast/riskcast/internal/model"
)

// Counterfactuals builds the what-if scenarios for a score/exposure pair.
// Three are always present; "Cascade Failure" joins at score >= 60.
func Counterfactuals(score, exposure float64) []model.Counterfactual {
	p := score / 100

	scenarios := []model.Counterfactual{
		{
			Scenario:      "Risk Materializes",
			Probability:   p,
			ImpactScore:   1.2 * score,
			EstimatedLoss: exposure * p,
			Description:   "the identified risk occurs at its assessed probability",
		},
		{
			Scenario:      "Conditions Improve",
			Probability:   math.Max(0.05, 1-p-0.1),
			Description:   "the risk dissipates without intervention",
		},
		{
			Scenario:      "Partial Impact",
			Probability:   math.Min(0.5, 1.5*p),
			ImpactScore:   0.5 * score,
			EstimatedLoss: exposure * p * 0.5,
			Description:   "the risk occurs in a reduced form",
		},
	}

	if score >= 60 {
		scenarios = append(scenarios, model.Counterfactual{
			Scenario:      "Cascade Failure",
			Probability:   0.3 * p,
			ImpactScore:   2 * score,
			EstimatedLoss: 1.5 * exposure * 0.3 * p,
			Description:   "the risk propagates to dependent orders and routes",
		})
	}
	return scenarios
}
