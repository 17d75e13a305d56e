package fulltext

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are optional. All methods are safe to call on a nil *Metrics.
type Metrics struct {
	OperationsTotal *prometheus.CounterVec
	SearchDuration  *prometheus.HistogramVec
	SearchResults   *prometheus.HistogramVec
}

// NewMetrics creates the index metrics and registers them with 'registry'
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulltext_index_operations_total",
				Help: "Total number of index operations",
			},
			[]string{"operation", "status"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulltext_search_duration_seconds",
				Help:    "Search duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entity_type"},
		),
		SearchResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulltext_search_results",
				Help:    "Number of entities returned per search",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"entity_type"},
		),
	}
	if registry != nil {
		registry.MustRegister(m.OperationsTotal, m.SearchDuration, m.SearchResults)
	}
	return m
}

func (m *Metrics) observeOp(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) observeSearch(entityType string, start time.Time, results int, err error) {
	if m == nil {
		return
	}
	m.observeOp("search", err)
	m.SearchDuration.WithLabelValues(entityType).Observe(time.Since(start).Seconds())
	if err == nil {
		m.SearchResults.WithLabelValues(entityType).Observe(float64(results))
	}
}
