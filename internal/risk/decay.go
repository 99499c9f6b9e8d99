// Package risk implements the seven-stage assessment pipeline: temporal
// decay, correlation discount, weighted confidence fusion, Bayesian
// posterior, ensemble, factor decomposition and advisory calibration.
package risk

import (
	"math"
	"time"

	"github.com/riskcast/riskcast/internal/model"
)

// DecayedSignal is one input signal with its temporal-decay weighting.
type DecayedSignal struct {
	Signal       model.InternalSignal
	AgeHours     float64
	HalfLife     float64
	Weight       float64
	DecayedScore float64
	Expired      bool
}

// DecayResult is the Stage A output.
type DecayResult struct {
	Signals   []DecayedSignal // all inputs, expired ones flagged
	Active    []DecayedSignal // non-expired, used by later stages
	Freshness model.FreshnessBand
	AvgAge    float64
}

// halfLife resolves the half-life for a signal type.
func (p Params) halfLife(signalType string) float64 {
	if h, ok := p.HalfLivesHours[signalType]; ok {
		return h
	}
	return p.DefaultHalfLifeHours
}

// Decay applies exponential half-life decay to each signal. Signals whose
// weight falls below the minimum are expired and excluded from aggregation.
func (p Params) Decay(signals []model.InternalSignal, now time.Time) DecayResult {
	result := DecayResult{Freshness: model.FreshnessStale}
	if len(signals) == 0 {
		return result
	}

	var ageSum float64
	for _, s := range signals {
		age := s.AgeHours(now)
		hl := p.halfLife(s.SignalType)
		w := math.Exp(-math.Ln2 * age / hl)
		d := DecayedSignal{
			Signal:       s,
			AgeHours:     age,
			HalfLife:     hl,
			Weight:       w,
			DecayedScore: s.SeverityScore * w,
			Expired:      w < p.DecayMinWeight,
		}
		result.Signals = append(result.Signals, d)
		if !d.Expired {
			result.Active = append(result.Active, d)
			ageSum += age
		}
	}

	if len(result.Active) == 0 {
		return result
	}
	result.AvgAge = ageSum / float64(len(result.Active))
	switch {
	case result.AvgAge < 24:
		result.Freshness = model.FreshnessFresh
	case result.AvgAge < 168:
		result.Freshness = model.FreshnessAging
	default:
		result.Freshness = model.FreshnessStale
	}
	return result
}
