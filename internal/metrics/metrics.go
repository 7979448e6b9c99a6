package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes counters and histograms for masking traffic. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	masked      *prometheus.CounterVec
	unresolved  prometheus.Counter
	rateLimited prometheus.Counter
	httpTotal   *prometheus.CounterVec
	latency     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the masking metrics with reg. A nil reg uses a fresh
// registry so that repeated construction in tests never collides.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel_mask",
			Name:      "operations_total",
			Help:      "Mask and unmask operations by operation and status",
		}, []string{"operation", "status"}),
		masked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel_mask",
			Name:      "masked_values_total",
			Help:      "Distinct values replaced with tokens, by entity class",
		}, []string{"entity_class"}),
		unresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel_mask",
			Name:      "unresolved_tokens_total",
			Help:      "Tokens left in text after unmasking",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel_mask",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel_mask",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sentinel_mask",
			Name:      "operation_duration_seconds",
			Help:      "Latency of mask, unmask and chat operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		gatherer: reg,
	}

	reg.MustRegister(m.operations, m.masked, m.unresolved, m.rateLimited, m.httpTotal, m.latency)
	return m
}

func (m *Metrics) ObserveOperation(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.latency.WithLabelValues(operation).Observe(seconds)
}

// ObserveMasked adds per-class distinct value counts.
func (m *Metrics) ObserveMasked(counts map[string]int) {
	if m == nil {
		return
	}
	for class, n := range counts {
		if n > 0 {
			m.masked.WithLabelValues(class).Add(float64(n))
		}
	}
}

func (m *Metrics) ObserveUnresolved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unresolved.Add(float64(n))
}

func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) ObserveHTTP(route, code string) {
	if m == nil {
		return
	}
	m.httpTotal.WithLabelValues(route, code).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
