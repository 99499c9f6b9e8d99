package model

import (
	"time"

	"github.com/google/uuid"
)

// ActionType enumerates the mitigations the decision engine can recommend.
type ActionType string

const (
	ActionMonitor  ActionType = "MONITOR"
	ActionInsure   ActionType = "INSURE"
	ActionReroute  ActionType = "REROUTE"
	ActionDelay    ActionType = "DELAY"
	ActionHedge    ActionType = "HEDGE"
	ActionSplit    ActionType = "SPLIT"
	ActionEscalate ActionType = "ESCALATE"
)

// Action is one candidate mitigation with its cost/benefit estimate.
type Action struct {
	Type               ActionType `json:"type"`
	Description        string     `json:"description"`
	EstimatedCostUSD   float64    `json:"estimated_cost_usd"`
	EstimatedBenefit   float64    `json:"estimated_benefit_usd"`
	NetValue           float64    `json:"net_value"`
	SuccessProbability float64    `json:"success_probability"`
	TimeToExecuteHours float64    `json:"time_to_execute_hours"`
	Requirements       []string   `json:"requirements,omitempty"`
	Risks              []string   `json:"risks,omitempty"`
}

// TradeoffResult records how the candidate actions ranked.
type TradeoffResult struct {
	Ranked       []RankedAction `json:"ranked"`
	TopScore     float64        `json:"top_score"`
	RunnerUp     float64        `json:"runner_up_score"`
	Confidence   float64        `json:"confidence"`
	FellBack     bool           `json:"fell_back_to_monitor"`
	InactionCost float64        `json:"inaction_cost"`
}

// RankedAction is one action with its tradeoff score.
type RankedAction struct {
	Action Action  `json:"action"`
	Score  float64 `json:"score"`
}

// EscalationRule is one human-review trigger with its evaluation.
type EscalationRule struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	Actual    float64 `json:"actual"`
	Triggered bool    `json:"triggered"`
}

// Counterfactual is one what-if scenario attached to a decision.
type Counterfactual struct {
	Scenario      string  `json:"scenario"`
	Probability   float64 `json:"probability"`
	ImpactScore   float64 `json:"impact_score"`
	EstimatedLoss float64 `json:"estimated_loss_usd"`
	Description   string  `json:"description"`
}

// DecisionStatus is the lifecycle state of a generated decision.
type DecisionStatus string

const (
	DecisionRecommended DecisionStatus = "RECOMMENDED"
	DecisionEscalated   DecisionStatus = "ESCALATED"
)

// Decision is the actionable output generated on top of an assessment.
// Value object; the only persisted trace of a decision is its outcome record.
type Decision struct {
	DecisionID string     `json:"decision_id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	Severity  SeverityBand   `json:"severity"`
	Situation string         `json:"situation"`
	RiskScore float64        `json:"risk_score"`
	Confidence float64       `json:"confidence"`
	CILower   float64        `json:"ci_lower"`
	CIUpper   float64        `json:"ci_upper"`
	Status    DecisionStatus `json:"status"`

	Recommended     Action           `json:"recommended_action"`
	Alternatives    []Action         `json:"alternatives"`
	Tradeoff        TradeoffResult   `json:"tradeoff"`
	InactionCost    float64          `json:"inaction_cost_usd"`
	Counterfactuals []Counterfactual `json:"counterfactuals"`

	NeedsHumanReview bool             `json:"needs_human_review"`
	EscalationRules  []EscalationRule `json:"escalation_rules"`

	AlgorithmTrace map[string]any `json:"algorithm_trace"`
	DataSources    []string       `json:"data_sources"`

	GeneratedAt time.Time `json:"generated_at"`
	ValidUntil  time.Time `json:"valid_until"`
}
