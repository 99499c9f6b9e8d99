package model

import (
	"time"

	"github.com/google/uuid"
)

// RiskPrior is the Beta prior for one (tenant, entity_type), shifted by the
// flywheel as outcomes accumulate.
type RiskPrior struct {
	TenantID           uuid.UUID  `json:"-"`
	EntityType         EntityType `json:"entity_type"`
	Alpha              float64    `json:"alpha"`
	Beta               float64    `json:"beta"`
	ObservedRate       float64    `json:"observed_rate"`
	Drift              float64    `json:"drift"`
	NOutcomes          int        `json:"n_outcomes"`
	NeedsRecalibration bool       `json:"needs_recalibration"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Mean returns the prior's expected materialization rate.
func (p RiskPrior) Mean() float64 {
	if p.Alpha+p.Beta == 0 {
		return 0
	}
	return p.Alpha / (p.Alpha + p.Beta)
}
