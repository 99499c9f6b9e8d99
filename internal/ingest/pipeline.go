// Package ingest implements the idempotent signal intake path: write-ahead
// ledger first, primary store second, exactly-once identity by signal_id.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/alerts"
	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

// Probability at or above which a freshly ingested signal fires the
// best-effort alert hook.
const highSeverityProbability = 0.7

// Source recorded on internal signals derived from the upstream producer.
const internalSignalSource = "omen"

// Status classifies an ingest result.
type Status int

const (
	// StatusNew means the signal was written to the primary store.
	StatusNew Status = iota
	// StatusDuplicate means the signal_id was already ingested; the
	// original ack is returned unchanged.
	StatusDuplicate
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetSignal(ctx context.Context, tenantID uuid.UUID, signalID string) (model.Signal, error)
	InsertSignal(ctx context.Context, s model.Signal) (model.Signal, error)
	RecordLedgerEntry(ctx context.Context, tenantID uuid.UUID, signalID string, payload json.RawMessage) (model.LedgerEntry, error)
	MarkLedgerIngested(ctx context.Context, tenantID, entryID uuid.UUID, ackID string) error
	MarkLedgerFailed(ctx context.Context, tenantID, entryID uuid.UUID, errMsg string) error
	ReplayLedgerIngested(ctx context.Context, tenantID uuid.UUID, signalID, ackID string) error
	UpsertInternalSignal(ctx context.Context, s model.InternalSignal) (model.InternalSignal, error)
}

// Pipeline is the ingest service.
type Pipeline struct {
	store    Store
	alerts   *alerts.Dispatcher // nil disables the hook
	alertOn  bool
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	newAckID func() string
}

// New creates an ingest pipeline. dispatcher may be nil.
func New(store Store, dispatcher *alerts.Dispatcher, alertOnIngest bool, metrics *Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		alerts:   dispatcher,
		alertOn:  alertOnIngest,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		newAckID: NewAckID,
	}
}

// NewAckID returns a fresh acknowledgment id: "riskcast-ack-" plus 8 hex chars.
func NewAckID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is unrecoverable for id generation.
		panic(fmt.Sprintf("ingest: read random bytes: %v", err))
	}
	return "riskcast-ack-" + hex.EncodeToString(b[:])
}

// Ingest processes one signal event. Returns the ack id and whether the
// signal was new or a duplicate; every other outcome is a fatal error. The
// ledger write commits before the primary-store insert begins, so a caller
// cancellation in between leaves a received entry for the reconciler.
func (p *Pipeline) Ingest(ctx context.Context, tenantID uuid.UUID, event model.SignalEvent) (string, Status, error) {
	p.metrics.addReceived()

	if err := event.Validate(); err != nil {
		return "", 0, fmt.Errorf("ingest: invalid signal event: %w", err)
	}

	// Idempotency probe before any write: a replayed or retried signal_id
	// resolves to its original ack.
	existing, err := p.store.GetSignal(ctx, tenantID, event.SignalID)
	if err == nil {
		p.metrics.addDuplicate()
		return existing.AckID, StatusDuplicate, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", 0, fmt.Errorf("ingest: idempotency probe: %w", err)
	}

	payload := event.RawPayload
	if len(payload) == 0 {
		payload, err = json.Marshal(event)
		if err != nil {
			return "", 0, fmt.Errorf("ingest: marshal ledger payload: %w", err)
		}
	}

	entry, err := p.store.RecordLedgerEntry(ctx, tenantID, event.SignalID, payload)
	if err != nil {
		return "", 0, fmt.Errorf("ingest: ledger record: %w", err)
	}

	ackID := p.newAckID()
	row := normalize(tenantID, event, ackID, p.now().UTC())

	if _, err := p.store.InsertSignal(ctx, row); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost a race with a concurrent ingest of the same signal_id.
			// Resolve to the winner's ack and settle our ledger entry.
			winner, getErr := p.store.GetSignal(ctx, tenantID, event.SignalID)
			if getErr != nil {
				return "", 0, fmt.Errorf("ingest: resolve duplicate ack: %w", getErr)
			}
			if markErr := p.store.MarkLedgerIngested(ctx, tenantID, entry.ID, winner.AckID); markErr != nil {
				p.logger.Warn("ingest: settle ledger after duplicate race failed",
					"signal_id", event.SignalID, "error", markErr)
			}
			p.metrics.addDuplicate()
			return winner.AckID, StatusDuplicate, nil
		}

		p.metrics.addFailed()
		if markErr := p.store.MarkLedgerFailed(ctx, tenantID, entry.ID, err.Error()); markErr != nil {
			p.logger.Error("ingest: mark ledger failed errored",
				"signal_id", event.SignalID, "error", markErr)
		}
		return "", 0, fmt.Errorf("ingest: primary store insert: %w", err)
	}

	if err := p.store.MarkLedgerIngested(ctx, tenantID, entry.ID, ackID); err != nil {
		// Primary row exists; the ledger entry stays received and the next
		// reconcile run settles it. Not a caller-visible failure.
		p.logger.Warn("ingest: mark ledger ingested failed",
			"signal_id", event.SignalID, "error", err)
	}

	p.metrics.addIngested()
	p.projectInternalSignals(ctx, tenantID, event, row.IngestedAt)
	p.fireAlert(tenantID, event)
	return ackID, StatusNew, nil
}

// ReplayFromLedger re-drives a signal from its stored ledger payload. Used by
// the reconciler; the ledger entry already exists so no new entry is written.
// Returns the ack and whether the primary row was newly created.
func (p *Pipeline) ReplayFromLedger(ctx context.Context, tenantID uuid.UUID, signalID string, payload json.RawMessage) (string, bool, error) {
	existing, err := p.store.GetSignal(ctx, tenantID, signalID)
	if err == nil {
		return existing.AckID, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", false, fmt.Errorf("ingest: replay probe: %w", err)
	}

	var event model.SignalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", false, fmt.Errorf("ingest: replay payload unmarshal: %w", err)
	}
	if event.SignalID == "" {
		event.SignalID = signalID
	}
	event.RawPayload = payload

	ackID := p.newAckID()
	row := normalize(tenantID, event, ackID, p.now().UTC())

	if _, err := p.store.InsertSignal(ctx, row); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			winner, getErr := p.store.GetSignal(ctx, tenantID, signalID)
			if getErr != nil {
				return "", false, fmt.Errorf("ingest: replay resolve duplicate: %w", getErr)
			}
			return winner.AckID, false, nil
		}
		return "", false, fmt.Errorf("ingest: replay insert: %w", err)
	}

	if err := p.store.ReplayLedgerIngested(ctx, tenantID, signalID, ackID); err != nil {
		p.logger.Warn("ingest: settle ledger after replay failed",
			"signal_id", signalID, "error", err)
	}
	p.metrics.addIngested()
	p.projectInternalSignals(ctx, tenantID, event, row.IngestedAt)
	return ackID, true, nil
}

// Metrics exposes the pipeline's counters.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

func (p *Pipeline) fireAlert(tenantID uuid.UUID, event model.SignalEvent) {
	if p.alerts == nil || !p.alertOn {
		return
	}
	if event.Signal.Probability < highSeverityProbability {
		return
	}
	p.alerts.Enqueue(alerts.Alert{
		TenantID: tenantID,
		Kind:     "signal.high_severity",
		Severity: alerts.SeverityHigh,
		Title:    event.Signal.Title,
		Details: map[string]any{
			"signal_id":   event.SignalID,
			"category":    event.Signal.Category,
			"probability": event.Signal.Probability,
		},
	})
}

// projectInternalSignals derives the normalized per-entity rows the risk
// engine scores from a freshly ingested event. Upsert failures are non-fatal:
// the projection is idempotent and a replay or re-ingest re-derives it.
func (p *Pipeline) projectInternalSignals(ctx context.Context, tenantID uuid.UUID, event model.SignalEvent, ingestedAt time.Time) {
	for _, s := range InternalSignalsFor(tenantID, event, ingestedAt) {
		if _, err := p.store.UpsertInternalSignal(ctx, s); err != nil {
			p.logger.Warn("ingest: internal signal upsert failed",
				"signal_id", event.SignalID,
				"entity_type", string(s.EntityType),
				"entity_id", s.EntityID,
				"error", err)
		}
	}
}

// InternalSignalsFor maps a wire event onto internal signals, one per entity
// reference in the signal's tags ("order:ORD-1", "route:RT-7", ...). Severity
// is the producer's probability on the 0–100 scale; signal age runs from
// observed_at when the producer supplies it.
func InternalSignalsFor(tenantID uuid.UUID, event model.SignalEvent, ingestedAt time.Time) []model.InternalSignal {
	var evidence json.RawMessage
	if len(event.Signal.Evidence) > 0 {
		if raw, err := json.Marshal(event.Signal.Evidence); err == nil {
			evidence = raw
		}
	}
	createdAt := ingestedAt
	if event.ObservedAt != nil {
		createdAt = event.ObservedAt.UTC()
	}

	var out []model.InternalSignal
	for _, tag := range event.Signal.Tags {
		kind, entityID, ok := strings.Cut(tag, ":")
		if !ok || entityID == "" {
			continue
		}
		entityType := model.EntityType(strings.ToLower(kind))
		if !entityType.Valid() {
			continue
		}
		out = append(out, model.InternalSignal{
			ID:            uuid.New(),
			TenantID:      tenantID,
			Source:        internalSignalSource,
			SignalType:    strings.ToLower(event.Signal.Category),
			EntityType:    entityType,
			EntityID:      entityID,
			Confidence:    event.Signal.ConfidenceScore,
			SeverityScore: event.Signal.Probability * 100,
			Evidence:      evidence,
			Active:        true,
			CreatedAt:     createdAt,
		})
	}
	return out
}

// normalize builds the primary-store row from a wire event. The raw payload
// is preserved verbatim; typed fields are the parsed view.
func normalize(tenantID uuid.UUID, event model.SignalEvent, ackID string, ingestedAt time.Time) model.Signal {
	s := model.Signal{
		ID:          uuid.New(),
		TenantID:    tenantID,
		SignalID:    event.SignalID,
		AckID:       ackID,
		Category:    event.Signal.Category,
		Title:       event.Signal.Title,
		Probability: event.Signal.Probability,
		Confidence:  event.Signal.ConfidenceScore,
		Evidence:    event.Signal.Evidence,
		RawPayload:  event.RawPayload,
		ObservedAt:  event.ObservedAt,
		EmittedAt:   event.EmittedAt,
		IngestedAt:  ingestedAt,
		Active:      true,
	}
	if event.Signal.Geographic != nil {
		s.Regions = event.Signal.Geographic.Regions
		s.Chokepoints = event.Signal.Geographic.Chokepoints
	}
	if len(s.RawPayload) == 0 {
		if raw, err := json.Marshal(event); err == nil {
			s.RawPayload = raw
		}
	}
	return s
}
