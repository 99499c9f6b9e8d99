package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

// TracerStore is the storage surface the tracer reads.
type TracerStore interface {
	GetLedgerEntry(ctx context.Context, tenantID uuid.UUID, signalID string) (model.LedgerEntry, error)
	GetSignal(ctx context.Context, tenantID uuid.UUID, signalID string) (model.Signal, error)
	GetOutcome(ctx context.Context, tenantID uuid.UUID, decisionID string) (model.OutcomeRecord, error)
	LedgerSignalIDsSince(ctx context.Context, tenantID uuid.UUID, t time.Time) (map[string]struct{}, error)
	SignalIDsSince(ctx context.Context, tenantID uuid.UUID, t time.Time) (map[string]struct{}, error)
}

// TraceStep is one reconstructed stage in a signal's journey.
type TraceStep struct {
	Stage   string         `json:"stage"` // "ledger_receipt" or "primary_ingest"
	Found   bool           `json:"found"`
	At      *time.Time     `json:"at,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// SignalTrace is the full reconstructed chain for one signal id.
type SignalTrace struct {
	SignalID   string      `json:"signal_id"`
	Steps      []TraceStep `json:"steps"`
	IsComplete bool        `json:"is_complete"`
}

// DecisionTrace links a decision to its recorded outcome, if any.
type DecisionTrace struct {
	DecisionID string                   `json:"decision_id"`
	HasOutcome bool                     `json:"has_outcome"`
	Predicted  *model.PredictedSnapshot `json:"predicted,omitempty"`
	Outcome    *model.OutcomeRecord     `json:"outcome,omitempty"`
}

// Coverage summarizes how much of the ledger made it to the primary store.
type Coverage struct {
	WindowHours         int     `json:"window_hours"`
	LedgerCount         int     `json:"ledger_count"`
	PrimaryCount        int     `json:"primary_count"`
	IngestCoverage      float64 `json:"ingest_coverage"`
	NeedsReconciliation bool    `json:"needs_reconciliation"`
}

// Tracer reconstructs per-signal and per-decision pipeline journeys.
type Tracer struct {
	store TracerStore
	now   func() time.Time
}

// NewTracer creates a tracer.
func NewTracer(store TracerStore) *Tracer {
	return &Tracer{store: store, now: time.Now}
}

// TraceSignal reconstructs the ledger and ingest steps for one signal id.
func (t *Tracer) TraceSignal(ctx context.Context, tenantID uuid.UUID, signalID string) (SignalTrace, error) {
	trace := SignalTrace{SignalID: signalID}

	ledgerStep := TraceStep{Stage: "ledger_receipt"}
	entry, err := t.store.GetLedgerEntry(ctx, tenantID, signalID)
	switch {
	case err == nil:
		ledgerStep.Found = true
		ledgerStep.At = &entry.RecordedAt
		ledgerStep.Details = map[string]any{
			"status": entry.Status,
			"ack_id": entry.AckID,
		}
		if entry.ErrorMessage != "" {
			ledgerStep.Details["error_message"] = entry.ErrorMessage
		}
	case errors.Is(err, storage.ErrNotFound):
		// step stays not-found
	default:
		return SignalTrace{}, fmt.Errorf("pipeline: trace ledger step: %w", err)
	}
	trace.Steps = append(trace.Steps, ledgerStep)

	ingestStep := TraceStep{Stage: "primary_ingest"}
	signal, err := t.store.GetSignal(ctx, tenantID, signalID)
	switch {
	case err == nil:
		ingestStep.Found = true
		ingestStep.At = &signal.IngestedAt
		ingestStep.Details = map[string]any{
			"ack_id":      signal.AckID,
			"category":    signal.Category,
			"probability": signal.Probability,
			"confidence":  signal.Confidence,
			"processed":   signal.Processed,
		}
	case errors.Is(err, storage.ErrNotFound):
		// step stays not-found
	default:
		return SignalTrace{}, fmt.Errorf("pipeline: trace ingest step: %w", err)
	}
	trace.Steps = append(trace.Steps, ingestStep)

	trace.IsComplete = ledgerStep.Found && ingestStep.Found
	return trace, nil
}

// TraceDecision returns the outcome recorded for a decision id, if any.
func (t *Tracer) TraceDecision(ctx context.Context, tenantID uuid.UUID, decisionID string) (DecisionTrace, error) {
	trace := DecisionTrace{DecisionID: decisionID}
	outcome, err := t.store.GetOutcome(ctx, tenantID, decisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return trace, nil
		}
		return DecisionTrace{}, fmt.Errorf("pipeline: trace decision: %w", err)
	}
	trace.HasOutcome = true
	trace.Predicted = &outcome.Predicted
	trace.Outcome = &outcome
	return trace, nil
}

// PipelineCoverage returns the ledger-to-primary ingest coverage ratio for
// the window.
func (t *Tracer) PipelineCoverage(ctx context.Context, tenantID uuid.UUID, windowHours int) (Coverage, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := t.now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	ledgerIDs, err := t.store.LedgerSignalIDsSince(ctx, tenantID, since)
	if err != nil {
		return Coverage{}, fmt.Errorf("pipeline: coverage ledger ids: %w", err)
	}
	primaryIDs, err := t.store.SignalIDsSince(ctx, tenantID, since)
	if err != nil {
		return Coverage{}, fmt.Errorf("pipeline: coverage primary ids: %w", err)
	}

	cov := Coverage{
		WindowHours:  windowHours,
		LedgerCount:  len(ledgerIDs),
		PrimaryCount: len(primaryIDs),
	}
	if cov.LedgerCount == 0 {
		cov.IngestCoverage = 1
		return cov, nil
	}
	covered := 0
	for id := range ledgerIDs {
		if _, ok := primaryIDs[id]; ok {
			covered++
		}
	}
	cov.IngestCoverage = float64(covered) / float64(cov.LedgerCount)
	cov.NeedsReconciliation = covered < cov.LedgerCount
	return cov, nil
}
