// Package decision turns assessments into ranked, costed mitigation
// recommendations with escalation rules and counterfactual scenarios.
package decision

import (
	"math"

	"github.com/riskcast/riskcast/internal/model"
)

// Score thresholds at which each action enters the candidate set.
const (
	insureMinScore   = 25.0
	rerouteMinScore  = 40.0
	hedgeMinScore    = 40.0
	delayMinScore    = 50.0
	splitMinScore    = 60.0
	escalateMinScore = 70.0
)

// GenerateActions builds the candidate set for a score. MONITOR is always
// present; others enter as the score crosses their thresholds, and ESCALATE
// also enters whenever the assessment is unreliable.
func GenerateActions(score, exposure, deliveryDays float64, reliable bool) []model.Action {
	loss := exposure * score / 100

	actions := []model.Action{{
		Type:               model.ActionMonitor,
		Description:        "Continue monitoring; no active mitigation",
		SuccessProbability: 1 - score/100,
	}}

	if score >= insureMinScore {
		a := model.Action{
			Type:               model.ActionInsure,
			Description:        "Purchase cargo/credit insurance against the projected loss",
			EstimatedCostUSD:   exposure * 0.02,
			EstimatedBenefit:   loss * 0.9,
			SuccessProbability: 0.95,
			TimeToExecuteHours: 4,
			Requirements:       []string{"insurable interest", "underwriter quote"},
		}
		actions = append(actions, a)
	}
	if score >= rerouteMinScore {
		actions = append(actions, model.Action{
			Type:               model.ActionReroute,
			Description:        "Move the shipment to an alternate route or carrier",
			EstimatedCostUSD:   5000 + exposure*0.01,
			EstimatedBenefit:   loss * 0.7,
			SuccessProbability: math.Min(0.95, 0.6+score/200),
			TimeToExecuteHours: 24 + deliveryDays*0.5,
			Requirements:       []string{"alternate carrier capacity"},
			Risks:              []string{"longer transit time"},
		})
	}
	if score >= hedgeMinScore {
		actions = append(actions, model.Action{
			Type:               model.ActionHedge,
			Description:        "Hedge the financial exposure on the open position",
			EstimatedCostUSD:   exposure * 0.015,
			EstimatedBenefit:   loss * 0.6,
			SuccessProbability: 0.85,
			TimeToExecuteHours: 8,
		})
	}
	if score >= delayMinScore {
		actions = append(actions, model.Action{
			Type:               model.ActionDelay,
			Description:        "Hold shipment until conditions improve",
			EstimatedCostUSD:   math.Ceil(deliveryDays*0.3) * 500,
			EstimatedBenefit:   loss * 0.5,
			SuccessProbability: 0.4 + score/200,
			TimeToExecuteHours: deliveryDays * 24 * 0.3,
			Risks:              []string{"customer SLA breach"},
		})
	}
	if score >= splitMinScore {
		actions = append(actions, model.Action{
			Type:               model.ActionSplit,
			Description:        "Split the order across independent routes or suppliers",
			EstimatedCostUSD:   exposure * 0.15,
			EstimatedBenefit:   loss * 0.8,
			SuccessProbability: 0.80,
			TimeToExecuteHours: 48,
			Requirements:       []string{"divisible order", "second supplier"},
		})
	}
	if score >= escalateMinScore || !reliable {
		actions = append(actions, model.Action{
			Type:               model.ActionEscalate,
			Description:        "Escalate to a human risk analyst for review",
			SuccessProbability: 0.90,
			TimeToExecuteHours: 2,
		})
	}

	for i := range actions {
		actions[i].NetValue = actions[i].EstimatedBenefit - actions[i].EstimatedCostUSD
	}
	return actions
}
