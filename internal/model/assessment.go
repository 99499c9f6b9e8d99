package model

import (
	"time"

	"github.com/google/uuid"
)

// SeverityBand labels an assessment or decision score.
type SeverityBand string

const (
	SeverityCritical SeverityBand = "critical"
	SeverityHigh     SeverityBand = "high"
	SeverityModerate SeverityBand = "moderate"
	SeverityLow      SeverityBand = "low"
)

// FreshnessBand labels the aggregate age of the signals behind an assessment.
type FreshnessBand string

const (
	FreshnessFresh FreshnessBand = "fresh"
	FreshnessAging FreshnessBand = "aging"
	FreshnessStale FreshnessBand = "stale"
)

// RiskFactor is one decomposed contributor to an assessment score.
type RiskFactor struct {
	Name            string  `json:"name"`
	DisplayName     string  `json:"display_name"`
	Score           float64 `json:"score"`
	Weight          float64 `json:"weight"`
	PctContribution float64 `json:"pct_contribution"`
	Explanation     string  `json:"explanation"`
	Recommendation  string  `json:"recommendation"`
}

// Assessment is the scored, explainable risk picture for one entity.
// It is a value object: computed on demand, never persisted.
type Assessment struct {
	TenantID   uuid.UUID  `json:"tenant_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	RiskScore  float64      `json:"risk_score"`
	Confidence float64      `json:"confidence"`
	CILower    float64      `json:"ci_lower"`
	CIUpper    float64      `json:"ci_upper"`
	Severity   SeverityBand `json:"severity"`

	IsReliable       bool          `json:"is_reliable"`
	NeedsHumanReview bool          `json:"needs_human_review"`
	NSignals         int           `json:"n_signals"`
	Freshness        FreshnessBand `json:"freshness"`

	PrimaryDriver string       `json:"primary_driver"`
	Factors       []RiskFactor `json:"factors"`
	Summary       string       `json:"summary"`

	// AlgorithmTrace carries every intermediate the pipeline produced, in
	// enough detail to re-derive the score from the inputs and configuration.
	AlgorithmTrace map[string]any `json:"algorithm_trace"`

	GeneratedAt time.Time `json:"generated_at"`
}

// SeverityFor maps a [0,100] score onto the configured severity bands.
func SeverityFor(score float64, critical, high, moderate float64) SeverityBand {
	switch {
	case score >= critical:
		return SeverityCritical
	case score >= high:
		return SeverityHigh
	case score >= moderate:
		return SeverityModerate
	default:
		return SeverityLow
	}
}
