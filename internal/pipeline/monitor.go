// Package pipeline provides observability over the ingest path: a health
// monitor, a ledger/primary integrity checker and a signal tracer.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/storage"
)

// Freshness labels for the monitor.
const (
	FreshnessFresh    = "fresh"
	FreshnessStale    = "stale"
	FreshnessOutdated = "outdated"
	FreshnessNoData   = "no_data"
)

// Volume labels for the monitor.
const (
	VolumeNormal     = "normal"
	VolumeSpike      = "spike"
	VolumeDrought    = "drought"
	VolumeNoBaseline = "no_baseline"
)

// Health status labels.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// MonitorStore is the storage surface the monitor reads.
type MonitorStore interface {
	IngestTimesSince(ctx context.Context, tenantID uuid.UUID, t time.Time) ([]storage.IngestTimes, error)
	CountSignalsBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (int, error)
	CountFailedLedgerSince(ctx context.Context, tenantID uuid.UUID, t time.Time) (int, error)
}

// MonitorConfig carries the health thresholds.
type MonitorConfig struct {
	FreshMinutes float64 // below: fresh
	StaleMinutes float64 // below: stale; at or above: outdated
	GapMinutes   float64 // ingest gap threshold
}

// Gap is one pause between consecutive ingests longer than the threshold.
type Gap struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes float64   `json:"minutes"`
}

// HealthReport is the monitor's 24-hour view of the ingest pipeline.
type HealthReport struct {
	Status           string     `json:"status"`
	LastSignalAt     *time.Time `json:"last_signal_at,omitempty"`
	MinutesSinceLast float64    `json:"minutes_since_last"`
	Freshness        string     `json:"freshness"`
	AvgLagMinutes    float64    `json:"avg_lag_minutes"`
	MaxLagMinutes    float64    `json:"max_lag_minutes"`
	CountLastHour    int        `json:"count_last_hour"`
	CountLast24h     int        `json:"count_last_24h"`
	AvgHourlyVolume  float64    `json:"avg_hourly_volume"`
	VolumeLabel      string     `json:"volume_label"`
	Gaps             []Gap      `json:"gaps,omitempty"`
	ErrorRate        float64    `json:"error_rate"`
	Recommendations  []string   `json:"recommendations,omitempty"`
	GeneratedAt      time.Time  `json:"generated_at"`
}

// Monitor computes pipeline health for one tenant.
type Monitor struct {
	store MonitorStore
	cfg   MonitorConfig
	now   func() time.Time
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(store MonitorStore, cfg MonitorConfig) *Monitor {
	return &Monitor{store: store, cfg: cfg, now: time.Now}
}

// Health computes the 24-hour health report.
func (m *Monitor) Health(ctx context.Context, tenantID uuid.UUID) (HealthReport, error) {
	now := m.now().UTC()
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-1 * time.Hour)

	times, err := m.store.IngestTimesSince(ctx, tenantID, dayAgo)
	if err != nil {
		return HealthReport{}, fmt.Errorf("pipeline: ingest times: %w", err)
	}
	countHour, err := m.store.CountSignalsBetween(ctx, tenantID, hourAgo, now)
	if err != nil {
		return HealthReport{}, fmt.Errorf("pipeline: hourly count: %w", err)
	}
	failed, err := m.store.CountFailedLedgerSince(ctx, tenantID, dayAgo)
	if err != nil {
		return HealthReport{}, fmt.Errorf("pipeline: failed count: %w", err)
	}

	report := HealthReport{
		CountLastHour: countHour,
		CountLast24h:  len(times),
		GeneratedAt:   now,
	}

	m.fillFreshness(&report, times, now)
	fillLag(&report, times)
	m.fillVolume(&report)
	m.fillGaps(&report, times)
	fillErrorRate(&report, failed)
	m.classify(&report)
	return report, nil
}

func (m *Monitor) fillFreshness(r *HealthReport, times []storage.IngestTimes, now time.Time) {
	if len(times) == 0 {
		r.Freshness = FreshnessNoData
		return
	}
	last := times[len(times)-1].IngestedAt
	r.LastSignalAt = &last
	r.MinutesSinceLast = now.Sub(last).Minutes()
	switch {
	case r.MinutesSinceLast < m.cfg.FreshMinutes:
		r.Freshness = FreshnessFresh
	case r.MinutesSinceLast < m.cfg.StaleMinutes:
		r.Freshness = FreshnessStale
	default:
		r.Freshness = FreshnessOutdated
	}
}

func fillLag(r *HealthReport, times []storage.IngestTimes) {
	var sum, max float64
	var n int
	for _, t := range times {
		if t.EmittedAt == nil {
			continue
		}
		lag := t.IngestedAt.Sub(*t.EmittedAt).Minutes()
		if lag < 0 {
			continue
		}
		sum += lag
		if lag > max {
			max = lag
		}
		n++
	}
	if n > 0 {
		r.AvgLagMinutes = sum / float64(n)
		r.MaxLagMinutes = max
	}
}

func (m *Monitor) fillVolume(r *HealthReport) {
	r.AvgHourlyVolume = float64(r.CountLast24h) / 24
	switch {
	case r.AvgHourlyVolume < 0.5:
		r.VolumeLabel = VolumeNoBaseline
	case float64(r.CountLastHour) > 3*r.AvgHourlyVolume:
		r.VolumeLabel = VolumeSpike
	case r.AvgHourlyVolume > 1 && float64(r.CountLastHour) < 0.1*r.AvgHourlyVolume:
		r.VolumeLabel = VolumeDrought
	default:
		r.VolumeLabel = VolumeNormal
	}
}

func (m *Monitor) fillGaps(r *HealthReport, times []storage.IngestTimes) {
	for i := 1; i < len(times); i++ {
		delta := times[i].IngestedAt.Sub(times[i-1].IngestedAt).Minutes()
		if delta > m.cfg.GapMinutes {
			r.Gaps = append(r.Gaps, Gap{
				Start:   times[i-1].IngestedAt,
				End:     times[i].IngestedAt,
				Minutes: delta,
			})
		}
	}
}

func fillErrorRate(r *HealthReport, failed int) {
	total := r.CountLast24h + failed
	if total > 0 {
		r.ErrorRate = float64(failed) / float64(total)
	}
}

func (m *Monitor) classify(r *HealthReport) {
	switch {
	case r.Freshness == FreshnessOutdated || r.Freshness == FreshnessNoData || r.ErrorRate > 0.10:
		r.Status = StatusCritical
	case r.Freshness == FreshnessStale || r.ErrorRate > 0.05 || len(r.Gaps) > 2:
		r.Status = StatusDegraded
	case len(r.Gaps) > 0 || r.VolumeLabel == VolumeSpike:
		r.Status = StatusWarning
	default:
		r.Status = StatusHealthy
	}

	switch r.Freshness {
	case FreshnessNoData:
		r.Recommendations = append(r.Recommendations,
			"no signals received in the last 24h; check the upstream producer and ingest credentials")
	case FreshnessOutdated:
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("last signal arrived %.0f minutes ago; check upstream delivery", r.MinutesSinceLast))
	case FreshnessStale:
		r.Recommendations = append(r.Recommendations,
			"signal feed is going stale; verify the producer schedule")
	}
	if r.ErrorRate > 0.05 {
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("ingest error rate %.1f%%; inspect failed ledger entries and run a reconcile", r.ErrorRate*100))
	}
	if len(r.Gaps) > 0 {
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("%d ingest gap(s) longer than %.0f minutes detected in the last 24h", len(r.Gaps), m.cfg.GapMinutes))
	}
	if r.VolumeLabel == VolumeSpike {
		r.Recommendations = append(r.Recommendations,
			"ingest volume spiked above 3x the 24h hourly average; confirm the surge is expected")
	}
	if r.VolumeLabel == VolumeDrought {
		r.Recommendations = append(r.Recommendations,
			"ingest volume dropped below 10% of the 24h hourly average")
	}
}
