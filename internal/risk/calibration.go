package risk

import "math"

// Scaler post-processes an ensemble probability into a calibrated one.
// Calibration is advisory during scoring: the calibrated value always lands
// in the algorithm trace, and replaces the returned score only when
// ApplyCalibration is set.
type Scaler interface {
	Calibrate(p float64) float64
	Fitted() bool
}

// IdentityScaler is the default, unfitted scaler.
type IdentityScaler struct{}

func (IdentityScaler) Calibrate(p float64) float64 { return p }
func (IdentityScaler) Fitted() bool                { return false }

// PlattScaler is a fitted logistic scaler: sigmoid(a·p + b).
type PlattScaler struct {
	A, B float64
}

func (s PlattScaler) Calibrate(p float64) float64 {
	return 1 / (1 + math.Exp(-(s.A*p + s.B)))
}

func (s PlattScaler) Fitted() bool { return true }
