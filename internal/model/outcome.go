package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutcomeType classifies what actually happened after a decision.
type OutcomeType string

const (
	OutcomeLossOccurred  OutcomeType = "loss_occurred"
	OutcomeDelayOccurred OutcomeType = "delay_occurred"
	OutcomePartialImpact OutcomeType = "partial_impact"
	OutcomeNoImpact      OutcomeType = "no_impact"
	OutcomeAverted       OutcomeType = "averted"
)

// RiskMaterialized reports whether an outcome type counts as the predicted
// risk actually happening.
func (t OutcomeType) RiskMaterialized() bool {
	switch t {
	case OutcomeLossOccurred, OutcomeDelayOccurred, OutcomePartialImpact:
		return true
	default:
		return false
	}
}

// PredictedSnapshot freezes the decision values an outcome is judged against.
type PredictedSnapshot struct {
	RiskScore  float64    `json:"risk_score"`
	Confidence float64    `json:"confidence"`
	Loss       float64    `json:"predicted_loss_usd"`
	Action     ActionType `json:"recommended_action"`
}

// RecordOutcomeRequest is the body for POST /outcomes.
type RecordOutcomeRequest struct {
	DecisionID      string      `json:"decision_id"`
	EntityType      EntityType  `json:"entity_type"`
	EntityID        string      `json:"entity_id"`
	OutcomeType     OutcomeType `json:"outcome_type"`
	ActualLoss      float64     `json:"actual_loss_usd"`
	ActualDelayDays float64     `json:"actual_delay_days"`
	ActionTaken     ActionType  `json:"action_taken"`
	ActionFollowed  bool        `json:"action_followed"`
	ActionCostUSD   float64     `json:"action_cost_usd"`
	Notes           string      `json:"notes,omitempty"`
}

// Validate enforces outcome request bounds.
func (r RecordOutcomeRequest) Validate() error {
	if r.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	if r.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	switch r.OutcomeType {
	case OutcomeLossOccurred, OutcomeDelayOccurred, OutcomePartialImpact, OutcomeNoImpact, OutcomeAverted:
	default:
		return fmt.Errorf("unknown outcome_type %q", r.OutcomeType)
	}
	if r.ActualLoss < 0 {
		return fmt.Errorf("actual_loss_usd must be non-negative")
	}
	if r.ActualDelayDays < 0 {
		return fmt.Errorf("actual_delay_days must be non-negative")
	}
	if r.ActionCostUSD < 0 {
		return fmt.Errorf("action_cost_usd must be non-negative")
	}
	return nil
}

// OutcomeRecord is the immutable, write-once record of a decision's
// real-world result. One record per decision_id.
type OutcomeRecord struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	DecisionID string     `json:"decision_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	Predicted PredictedSnapshot `json:"predicted"`

	OutcomeType     OutcomeType `json:"outcome_type"`
	ActualLoss      float64     `json:"actual_loss_usd"`
	ActualDelayDays float64     `json:"actual_delay_days"`
	ActionTaken     ActionType  `json:"action_taken"`
	ActionFollowed  bool        `json:"action_followed"`
	ActionCostUSD   float64     `json:"action_cost_usd"`

	RiskMaterialized bool    `json:"risk_materialized"`
	PredictionError  float64 `json:"prediction_error"`
	WasAccurate      bool    `json:"was_accurate"`
	ValueGenerated   float64 `json:"value_generated_usd"`

	Notes      string    `json:"notes,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AccuracyReport aggregates prediction quality over a period.
type AccuracyReport struct {
	TenantID         uuid.UUID       `json:"tenant_id"`
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	NOutcomes        int             `json:"n_outcomes"`
	BrierScore       float64         `json:"brier_score"`
	MAE              float64         `json:"mean_absolute_error"`
	AccuracyRate     float64         `json:"accuracy_rate"`
	ECE              float64         `json:"expected_calibration_error"`
	CalibrationDrift float64         `json:"calibration_drift"`
	Overconfident    bool            `json:"overconfident"`
	ReliabilityBins  []CalibrationBin `json:"reliability_bins,omitempty"`
	Confusion        ConfusionMatrix `json:"confusion_matrix"`
	Recommendation   string          `json:"recommendation"`
}

// CalibrationBin is one equal-width bin of a reliability diagram.
type CalibrationBin struct {
	LowerBound    float64 `json:"lower_bound"`
	UpperBound    float64 `json:"upper_bound"`
	Count         int     `json:"count"`
	AvgPredicted  float64 `json:"avg_predicted"`
	ObservedRate  float64 `json:"observed_rate"`
	AbsoluteGap   float64 `json:"absolute_gap"`
}

// ConfusionMatrix partitions predictions at the 50-point threshold.
type ConfusionMatrix struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// ROIReport aggregates the economics of followed and ignored decisions.
type ROIReport struct {
	TenantID           uuid.UUID `json:"tenant_id"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	NOutcomes          int       `json:"n_outcomes"`
	TotalPredictedLoss float64   `json:"total_predicted_loss_usd"`
	TotalActualLoss    float64   `json:"total_actual_loss_usd"`
	TotalLossAvoided   float64   `json:"total_loss_avoided_usd"`
	TotalActionCost    float64   `json:"total_action_cost_usd"`
	NetValue           float64   `json:"net_value_usd"`
	ROIRatio           float64   `json:"roi_ratio"`
	FollowRate         float64   `json:"follow_rate"`
}
