package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects sync pipeline measurements on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	batchesTotal    *prometheus.CounterVec
	operationsTotal *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	wsClients       prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_batches_total",
			Help: "Processed sync batches by outcome",
		},
		[]string{"outcome"},
	)
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_operations_total",
			Help: "Processed sync operations by kind and status",
		},
		[]string{"kind", "status"},
	)
	m.batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_batch_duration_seconds",
			Help:    "Time to process one sync batch",
			Buckets: prometheus.DefBuckets,
		},
	)
	m.wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_connected_terminals",
			Help: "Currently connected notification terminals",
		},
	)

	m.registry.MustRegister(m.batchesTotal, m.operationsTotal, m.batchDuration, m.wsClients)
	return m
}

// ObserveBatch records one processed batch.
func (m *Metrics) ObserveBatch(outcome string, d time.Duration) {
	m.batchesTotal.WithLabelValues(outcome).Inc()
	m.batchDuration.Observe(d.Seconds())
}

// ObserveOperation records one terminal operation result.
func (m *Metrics) ObserveOperation(kind, status string) {
	m.operationsTotal.WithLabelValues(kind, status).Inc()
}

// SetConnectedTerminals updates the notification connection gauge.
func (m *Metrics) SetConnectedTerminals(n int) {
	m.wsClients.Set(float64(n))
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
