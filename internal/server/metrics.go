package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scrape-side instruments owned by the HTTP layer.
type Metrics struct {
	AssessmentDuration prometheus.Histogram
}

// NewMetrics registers the server instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AssessmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskcast_assessment_duration_seconds",
			Help:    "Wall time of the full seven-stage assessment pipeline.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
