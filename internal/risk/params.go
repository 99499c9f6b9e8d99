package risk

import "github.com/riskcast/riskcast/internal/config"

// Params are the tunable constants of the assessment pipeline. They are a
// plain value so the stage functions stay deterministic and testable.
type Params struct {
	HalfLivesHours       map[string]float64
	DefaultHalfLifeHours float64
	DecayMinWeight       float64

	CorrelationThreshold float64
	CorrelationDiscount  float64

	FusionWeights map[string]float64

	PriorAlpha float64
	PriorBeta  float64

	EnsembleFusionWeight float64
	EnsembleBayesWeight  float64

	SeverityCritical float64
	SeverityHigh     float64
	SeverityModerate float64

	ApplyCalibration bool
}

// Weight a signal type gets when it is absent from the fusion table.
const defaultFusionWeight = 0.10

// ParamsFromConfig copies the risk-engine knobs out of the app config.
func ParamsFromConfig(cfg config.Config) Params {
	return Params{
		HalfLivesHours:       cfg.HalfLivesHours,
		DefaultHalfLifeHours: cfg.DefaultHalfLifeHours,
		DecayMinWeight:       cfg.DecayMinWeight,
		CorrelationThreshold: cfg.CorrelationThreshold,
		CorrelationDiscount:  cfg.CorrelationDiscount,
		FusionWeights:        cfg.FusionWeights,
		PriorAlpha:           cfg.PriorAlpha,
		PriorBeta:            cfg.PriorBeta,
		EnsembleFusionWeight: cfg.EnsembleFusionWeight,
		EnsembleBayesWeight:  cfg.EnsembleBayesWeight,
		SeverityCritical:     cfg.SeverityCritical,
		SeverityHigh:         cfg.SeverityHigh,
		SeverityModerate:     cfg.SeverityModerate,
		ApplyCalibration:     cfg.ApplyCalibration,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
