package risk

import (
	"math"
	"sort"
)

// FactorScore is one signal type's contribution to the fused score.
type FactorScore struct {
	SignalType      string  `json:"signal_type"`
	Score           float64 `json:"score"`
	Weight          float64 `json:"weight"`
	Confidence      float64 `json:"confidence"`
	PctContribution float64 `json:"pct_contribution"`
}

// FusionResult is the Stage C output.
type FusionResult struct {
	Score       float64       `json:"score"`
	Confidence  float64       `json:"confidence"`
	Uncertainty float64       `json:"uncertainty"`
	CILower     float64       `json:"ci_lower"`
	CIUpper     float64       `json:"ci_upper"`
	Factors     []FactorScore `json:"factors"`
}

// Fuse combines the decayed, correlation-adjusted signals into one weighted
// score. Weights are renormalized over the signal types present so tenant
// overrides need not sum to one.
func (p Params) Fuse(signals []DecayedSignal) FusionResult {
	if len(signals) == 0 {
		return FusionResult{}
	}

	present := make(map[string]float64)
	for _, s := range signals {
		t := s.Signal.SignalType
		if _, ok := present[t]; ok {
			continue
		}
		if w, ok := p.FusionWeights[t]; ok {
			present[t] = w
		} else {
			present[t] = defaultFusionWeight
		}
	}
	var weightSum float64
	for _, w := range present {
		weightSum += w
	}
	for t := range present {
		present[t] /= weightSum
	}

	var num, den, wSum, uSq float64
	contributions := make(map[string]float64)
	typeScores := make(map[string]float64)
	typeConf := make(map[string]float64)
	typeCount := make(map[string]int)

	for _, s := range signals {
		t := s.Signal.SignalType
		w := present[t]
		c := s.Signal.Confidence
		sc := s.DecayedScore

		num += w * c * sc
		den += w * c
		wSum += w

		u := w * sc * (1 - c)
		uSq += u * u

		contributions[t] += w * c * sc
		typeScores[t] += sc
		typeConf[t] += c
		typeCount[t]++
	}

	if den == 0 {
		return FusionResult{}
	}

	result := FusionResult{
		Score:       num / den,
		Confidence:  den / wSum,
		Uncertainty: math.Sqrt(uSq),
	}
	result.CILower = clamp(result.Score-result.Uncertainty, 0, 100)
	result.CIUpper = clamp(result.Score+result.Uncertainty, 0, 100)

	for t, contrib := range contributions {
		n := float64(typeCount[t])
		pct := 0.0
		if num > 0 {
			pct = contrib / num * 100
		}
		result.Factors = append(result.Factors, FactorScore{
			SignalType:      t,
			Score:           typeScores[t] / n,
			Weight:          present[t],
			Confidence:      typeConf[t] / n,
			PctContribution: pct,
		})
	}
	sort.Slice(result.Factors, func(i, j int) bool {
		if result.Factors[i].PctContribution != result.Factors[j].PctContribution {
			return result.Factors[i].PctContribution > result.Factors[j].PctContribution
		}
		return result.Factors[i].SignalType < result.Factors[j].SignalType
	})
	return result
}
