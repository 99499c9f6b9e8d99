// Package alerts is the best-effort notification fan-out. Business flows
// enqueue alerts and move on; delivery happens on a bounded worker pool and
// a failed or dropped alert never fails the originating request. Failures
// are observable through logs, metrics and the optional dead-letter store.
package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Severity buckets alerts for channel routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is one notification job.
type Alert struct {
	TenantID  uuid.UUID      `json:"tenant_id"`
	Kind      string         `json:"kind"` // e.g. "signal.high_severity", "decision.generated"
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink delivers an alert to a channel adapter (email, chat, webhook).
// Adapters live outside this module; the default sink just logs.
type Sink interface {
	Deliver(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the structured log. It is the default sink when
// no channel adapter is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver logs the alert and always succeeds.
func (s LogSink) Deliver(_ context.Context, a Alert) error {
	s.Logger.Info("alert",
		"kind", a.Kind,
		"severity", a.Severity,
		"tenant_id", a.TenantID,
		"title", a.Title)
	return nil
}
