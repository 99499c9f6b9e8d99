package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
)

// Store is the persistence surface the audit service needs. AppendAuditEntry
// must invoke build with the current chain head while holding a lock that
// spans the read and the insert.
type Store interface {
	AppendAuditEntry(ctx context.Context, build func(previousHash string) (model.AuditEntry, error)) (model.AuditEntry, error)
	StreamAuditEntries(ctx context.Context, fn func(model.AuditEntry) error) error
}

// Event is the caller-supplied portion of an audit entry.
type Event struct {
	TenantID *uuid.UUID
	Actor    string
	Action   string
	Resource string
	Outcome  model.AuditOutcome
	Details  map[string]any
}

// Service appends entries to the hash chain and verifies it on demand.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates an audit service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Log appends one entry to the chain. It never returns an error: any write
// failure is reported out-of-band via the service logger and the caller's
// flow continues.
func (s *Service) Log(ctx context.Context, ev Event) {
	if ev.Outcome == "" {
		ev.Outcome = model.AuditSuccess
	}
	_, err := s.store.AppendAuditEntry(ctx, func(prev string) (model.AuditEntry, error) {
		e := model.AuditEntry{
			EntryID:      uuid.New(),
			Timestamp:    s.now().UTC(),
			TenantID:     ev.TenantID,
			Actor:        ev.Actor,
			Action:       ev.Action,
			Resource:     ev.Resource,
			Outcome:      ev.Outcome,
			Details:      ev.Details,
			PreviousHash: prev,
		}
		h, err := EntryHash(e)
		if err != nil {
			return model.AuditEntry{}, err
		}
		e.EntryHash = h
		return e, nil
	})
	if err != nil {
		s.logger.Error("audit log write failed",
			"action", ev.Action,
			"resource", ev.Resource,
			"error", err)
	}
}
