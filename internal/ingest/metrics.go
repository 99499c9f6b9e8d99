package ingest

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts ingest outcomes. Counters are kept both as atomics (for the
// JSON status endpoints) and as Prometheus counters (for the scrape endpoint).
type Metrics struct {
	received   atomic.Int64
	ingested   atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64

	promReceived   prometheus.Counter
	promIngested   prometheus.Counter
	promDuplicates prometheus.Counter
	promFailed     prometheus.Counter
}

// NewMetrics registers the ingest counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		promReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskcast_ingest_received_total",
			Help: "Signals received at the ingest boundary.",
		}),
		promIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskcast_ingest_ingested_total",
			Help: "Signals written to the primary store.",
		}),
		promDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskcast_ingest_duplicates_total",
			Help: "Signals rejected as duplicates by signal_id.",
		}),
		promFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskcast_ingest_failed_total",
			Help: "Signals whose primary-store insert failed.",
		}),
	}
}

func (m *Metrics) addReceived() {
	m.received.Add(1)
	m.promReceived.Inc()
}

func (m *Metrics) addIngested() {
	m.ingested.Add(1)
	m.promIngested.Inc()
}

func (m *Metrics) addDuplicate() {
	m.duplicates.Add(1)
	m.promDuplicates.Inc()
}

func (m *Metrics) addFailed() {
	m.failed.Add(1)
	m.promFailed.Inc()
}

// Snapshot is a point-in-time view of the ingest counters.
type Snapshot struct {
	Received   int64 `json:"received"`
	Ingested   int64 `json:"ingested"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Received:   m.received.Load(),
		Ingested:   m.ingested.Load(),
		Duplicates: m.duplicates.Load(),
		Failed:     m.failed.Load(),
	}
}
