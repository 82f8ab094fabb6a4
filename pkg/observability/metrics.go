package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes the typed per-component metrics struct called for by
// the redesign notes ("metrics are a typed struct on each component",
// spec.md §9) using a real backend instead of a bespoke one, grounded on
// internal/metrics.Collector.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pipelineErrors  *prometheus.CounterVec
	rateLimitHits   *prometheus.CounterVec
	credentialState *prometheus.GaugeVec
	poolSize        *prometheus.GaugeVec
}

// NewCollector registers the gateway's metrics under the given namespace.
// Call once per process; registering twice against the default registry
// panics, matching promauto's documented behavior.
func NewCollector(namespace string) *Collector {
	return &Collector{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total gateway requests by category and outcome.",
		}, []string{"category", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Pipeline execution duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"category", "pipeline_id"}),

		pipelineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Pipeline errors by category and taxonomy.",
		}, []string{"pipeline_id", "error_category"}),

		rateLimitHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Rate-limit hits recorded per credential key.",
		}, []string{"credential_key"}),

		credentialState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credential_state",
			Help:      "1 if the credential is currently in the given state, else 0.",
		}, []string{"credential_id", "state"}),

		poolSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_size",
			Help:      "Number of admissible pipelines in a routing category's pool.",
		}, []string{"category"}),
	}
}

// RecordRequest records one completed gateway request.
func (c *Collector) RecordRequest(category, status string, duration time.Duration, pipelineID string) {
	c.requestsTotal.WithLabelValues(category, status).Inc()
	c.requestDuration.WithLabelValues(category, pipelineID).Observe(duration.Seconds())
}

// RecordPipelineError records a pipeline stage failure.
func (c *Collector) RecordPipelineError(pipelineID string, category string) {
	c.pipelineErrors.WithLabelValues(pipelineID, category).Inc()
}

// RecordRateLimitHit records a single rate-limit hit for a credential key.
func (c *Collector) RecordRateLimitHit(credentialKey string) {
	c.rateLimitHits.WithLabelValues(credentialKey).Inc()
}

// SetCredentialState updates the gauge for a credential's current state,
// zeroing every other known state so only one is ever set to 1.
func (c *Collector) SetCredentialState(credentialID string, states []string, current string) {
	for _, s := range states {
		value := 0.0
		if s == current {
			value = 1.0
		}
		c.credentialState.WithLabelValues(credentialID, s).Set(value)
	}
}

// SetPoolSize records the admissible pool size for a routing category.
func (c *Collector) SetPoolSize(category string, size int) {
	c.poolSize.WithLabelValues(category).Set(float64(size))
}
