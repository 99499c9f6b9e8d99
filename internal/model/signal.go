// Package model defines the value objects shared across RiskCast components:
// signal events, ledger entries, assessments, decisions, outcomes and audit
// entries, plus the HTTP request/response envelopes.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LedgerStatus is the lifecycle state of a signal ledger entry.
// Transitions are forward-only: received → ingested or received → failed.
type LedgerStatus string

const (
	LedgerReceived LedgerStatus = "received"
	LedgerIngested LedgerStatus = "ingested"
	LedgerFailed   LedgerStatus = "failed"
)

// SignalEvent is the wire format POSTed by the upstream OMEN producer.
// The raw body is preserved verbatim in RawPayload for replay and audit;
// the typed fields are the parsed view consumed by the pipeline.
type SignalEvent struct {
	SchemaVersion string     `json:"schema_version"`
	SignalID      string     `json:"signal_id"`
	ObservedAt    *time.Time `json:"observed_at,omitempty"`
	EmittedAt     *time.Time `json:"emitted_at,omitempty"`

	DeterministicTraceID string `json:"deterministic_trace_id,omitempty"`
	InputEventHash       string `json:"input_event_hash,omitempty"`
	SourceEventID        string `json:"source_event_id,omitempty"`
	RulesetVersion       string `json:"ruleset_version,omitempty"`

	Signal SignalBody `json:"signal"`

	// RawPayload carries the request body exactly as received. It is never
	// re-marshalled from the typed fields.
	RawPayload json.RawMessage `json:"-"`
}

// SignalBody is the enriched signal inside a SignalEvent.
type SignalBody struct {
	SignalID        string        `json:"signal_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Probability     float64       `json:"probability"`
	ConfidenceScore float64       `json:"confidence_score"`
	ConfidenceLevel string        `json:"confidence_level,omitempty"`
	Category        string        `json:"category"`
	Tags            []string      `json:"tags,omitempty"`
	Geographic      *Geographic   `json:"geographic,omitempty"`
	Temporal        *TemporalInfo `json:"temporal,omitempty"`
	Evidence        []Evidence    `json:"evidence,omitempty"`
	GeneratedAt     *time.Time    `json:"generated_at,omitempty"`
}

// Geographic scopes a signal to regions and chokepoints.
type Geographic struct {
	Regions     []string `json:"regions,omitempty"`
	Chokepoints []string `json:"chokepoints,omitempty"`
}

// TemporalInfo carries the event horizon and expected resolution of a signal.
type TemporalInfo struct {
	EventHorizon   string     `json:"event_horizon,omitempty"`
	ResolutionDate *time.Time `json:"resolution_date,omitempty"`
}

// Evidence is one supporting source attached to a signal.
type Evidence struct {
	Source      string     `json:"source"`
	SourceType  string     `json:"source_type"`
	URL         string     `json:"url,omitempty"`
	RawText     string     `json:"raw_text,omitempty"`
	RetrievedAt *time.Time `json:"retrieved_at,omitempty"`
}

// Validate enforces the bounds the ingest boundary promises downstream
// consumers: signal identity present, probability and confidence in [0,1].
func (e SignalEvent) Validate() error {
	if e.SignalID == "" {
		return fmt.Errorf("signal_id is required")
	}
	if e.Signal.SignalID != "" && e.Signal.SignalID != e.SignalID {
		return fmt.Errorf("signal.signal_id %q does not match envelope signal_id %q", e.Signal.SignalID, e.SignalID)
	}
	if e.Signal.Category == "" {
		return fmt.Errorf("signal.category is required")
	}
	if e.Signal.Probability < 0 || e.Signal.Probability > 1 {
		return fmt.Errorf("signal.probability %v out of range [0,1]", e.Signal.Probability)
	}
	if e.Signal.ConfidenceScore < 0 || e.Signal.ConfidenceScore > 1 {
		return fmt.Errorf("signal.confidence_score %v out of range [0,1]", e.Signal.ConfidenceScore)
	}
	if e.ObservedAt != nil && e.EmittedAt != nil && e.EmittedAt.Before(*e.ObservedAt) {
		return fmt.Errorf("emitted_at precedes observed_at")
	}
	return nil
}

// LedgerEntry is the immutable write-ahead record for one received signal.
// Only Status, AckID, IngestedAt and ErrorMessage may change after insert,
// and only forward (received → ingested | failed).
type LedgerEntry struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	SignalID     string          `json:"signal_id"`
	Payload      json.RawMessage `json:"payload"`
	Status       LedgerStatus    `json:"status"`
	AckID        string          `json:"ack_id,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RecordedAt   time.Time       `json:"recorded_at"`
	IngestedAt   *time.Time      `json:"ingested_at,omitempty"`
}

// Signal is a row in the primary store (ingest_signals), the queryable form
// consumed by assessment. Immutable after insert except the lifecycle flags.
type Signal struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	SignalID    string          `json:"signal_id"`
	AckID       string          `json:"ack_id"`
	Category    string          `json:"category"`
	Title       string          `json:"title"`
	Probability float64         `json:"probability"`
	Confidence  float64         `json:"confidence"`
	Evidence    []Evidence      `json:"evidence,omitempty"`
	Regions     []string        `json:"regions,omitempty"`
	Chokepoints []string        `json:"chokepoints,omitempty"`
	RawPayload  json.RawMessage `json:"-"`
	ObservedAt  *time.Time      `json:"observed_at,omitempty"`
	EmittedAt   *time.Time      `json:"emitted_at,omitempty"`
	IngestedAt  time.Time       `json:"ingested_at"`
	Active      bool            `json:"active"`
	Processed   bool            `json:"processed"`
}

// EntityType classifies the business object an internal signal points at.
type EntityType string

const (
	EntityOrder    EntityType = "order"
	EntityCustomer EntityType = "customer"
	EntityRoute    EntityType = "route"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityOrder, EntityCustomer, EntityRoute:
		return true
	}
	return false
}

// InternalSignal is the normalized per-entity form scored by the risk engine.
// Unique per (tenant, source, signal_type, entity_type, entity_id).
type InternalSignal struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Source        string          `json:"source"`
	SignalType    string          `json:"signal_type"`
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Confidence    float64         `json:"confidence"`
	SeverityScore float64         `json:"severity_score"`
	Evidence      json.RawMessage `json:"evidence,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Validate enforces the internal-signal bounds.
func (s InternalSignal) Validate() error {
	if s.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if s.SignalType == "" {
		return fmt.Errorf("signal_type is required")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", s.Confidence)
	}
	if s.SeverityScore < 0 || s.SeverityScore > 100 {
		return fmt.Errorf("severity_score %v out of range [0,100]", s.SeverityScore)
	}
	return nil
}

// AgeHours returns the signal age relative to now, floored at zero.
func (s InternalSignal) AgeHours(now time.Time) float64 {
	h := now.Sub(s.CreatedAt).Hours()
	if h < 0 {
		return 0
	}
	return h
}
