package risk

import (
	"fmt"

	"github.com/riskcast/riskcast/internal/model"
)

// factorTemplate drives the human-readable decomposition for one signal type.
type factorTemplate struct {
	displayName    string
	highExplain    string // chosen when the factor score >= 50
	lowExplain     string
	recommendation string
}

var factorTemplates = map[string]factorTemplate{
	"payment_risk": {
		displayName:    "Payment Risk",
		highExplain:    "payment behavior shows elevated default indicators",
		lowExplain:     "payment behavior is within normal bounds",
		recommendation: "review credit terms and outstanding balance before extending exposure",
	},
	"route_disruption": {
		displayName:    "Route Disruption",
		highExplain:    "active disruptions reported along the shipping route",
		lowExplain:     "no significant disruption on the shipping route",
		recommendation: "evaluate alternate routings and carrier capacity",
	},
	"order_risk_composite": {
		displayName:    "Order Risk",
		highExplain:    "composite order indicators point at elevated fulfillment risk",
		lowExplain:     "order indicators are unremarkable",
		recommendation: "verify inventory position and fulfillment milestones",
	},
	"customer_creditworthiness": {
		displayName:    "Customer Credit",
		highExplain:    "customer credit indicators have deteriorated",
		lowExplain:     "customer credit indicators are stable",
		recommendation: "re-check payment terms against the customer's current rating",
	},
	"market_volatility": {
		displayName:    "Market Volatility",
		highExplain:    "market conditions are unusually volatile for this lane",
		lowExplain:     "market conditions are calm",
		recommendation: "consider hedging rate exposure for open commitments",
	},
	"port_closure": {
		displayName:    "Port Closure",
		highExplain:    "a port on the route is closed or severely congested",
		lowExplain:     "ports on the route are operating normally",
		recommendation: "confirm berth windows and contingency ports",
	},
	"weather_alert": {
		displayName:    "Weather",
		highExplain:    "severe weather is forecast on the route",
		lowExplain:     "weather along the route is benign",
		recommendation: "track the forecast and build schedule slack",
	},
}

// Summary bands.
const (
	SummaryHighRisk = "HIGH RISK"
	SummaryModerate = "MODERATE"
	SummaryLow      = "LOW"
)

// Decompose produces the ordered factor list from the fusion output.
// Factors arrive already sorted by contribution descending.
func Decompose(fusion FusionResult, ensembleScore float64) (factors []model.RiskFactor, primaryDriver, band string) {
	for _, f := range fusion.Factors {
		tpl, ok := factorTemplates[f.SignalType]
		if !ok {
			tpl = factorTemplate{
				displayName:    f.SignalType,
				highExplain:    "this factor is contributing elevated risk",
				lowExplain:     "this factor is contributing little risk",
				recommendation: "inspect the underlying signals",
			}
		}
		explanation := tpl.lowExplain
		if f.Score >= 50 {
			explanation = tpl.highExplain
		}
		factors = append(factors, model.RiskFactor{
			Name:            f.SignalType,
			DisplayName:     tpl.displayName,
			Score:           f.Score,
			Weight:          f.Weight,
			PctContribution: f.PctContribution,
			Explanation:     explanation,
			Recommendation:  tpl.recommendation,
		})
	}

	primaryDriver = "none"
	if len(factors) > 0 {
		primaryDriver = factors[0].DisplayName
	}

	switch {
	case ensembleScore >= 70:
		band = SummaryHighRisk
	case ensembleScore >= 40:
		band = SummaryModerate
	default:
		band = SummaryLow
	}
	return factors, primaryDriver, band
}

// summaryText renders the one-line assessment summary.
func summaryText(band, primaryDriver string, score float64, nSignals int) string {
	if nSignals == 0 {
		return "no active signals for this entity; risk defaults to zero and the assessment is not reliable"
	}
	return fmt.Sprintf("%s (score %.1f) driven primarily by %s across %d signal(s)", band, score, primaryDriver, nSignals)
}
