// Package metrics is the write-only Prometheus sink for the gateway
// (component J's exposition format). Metric names and label sets are
// carried over from the original gateway's middleware/metrics.py, adapted
// to typed vector metrics registered once at startup against a private
// registry rather than the global default, so tests can spin up an
// isolated instance.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaygate/gateway/internal/core/domain"
)

// Metrics bundles every counter/histogram/gauge the pipeline and admin
// surface write to. The pipeline only ever calls Observe/Inc/Set methods
// here; nothing downstream reads a metric back out.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	QueueDepth          *prometheus.GaugeVec
	QueueWaitTime       *prometheus.HistogramVec
	RateLimitRejections *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec
	BreakerFailures     *prometheus.CounterVec
	BackendDuration     *prometheus.HistogramVec
	TokensProcessed     *prometheus.CounterVec
	QuotaDailyTokens    *prometheus.GaugeVec
	QuotaMonthlyTokens  *prometheus.GaugeVec
	TenantGCTotal       prometheus.Counter
}

// New builds and registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total requests handled, by method/endpoint/status.",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request latency by endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_queue_depth",
			Help: "Current concurrency-gate queue depth, by tenant.",
		}, []string{"tenant"}),
		QueueWaitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_queue_wait_time_seconds",
			Help:    "Time spent waiting for a concurrency slot, by tenant.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tenant"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Admission rejections, by reason.",
		}, []string{"reason"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per backend (0=closed, 1=open, 2=half_open).",
		}, []string{"backend"}),
		BreakerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_failures_total",
			Help: "Times a backend's circuit breaker has opened; failures below the threshold are not counted.",
		}, []string{"backend"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_backend_duration_seconds",
			Help:    "Backend call latency, by backend and role.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend", "role"}),
		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_processed_total",
			Help: "Tokens accounted to a tenant, by model and role.",
		}, []string{"tenant", "model", "role"}),
		QuotaDailyTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_quota_daily_tokens",
			Help: "Current daily token usage, by tenant.",
		}, []string{"tenant"}),
		QuotaMonthlyTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_quota_monthly_tokens",
			Help: "Current monthly token usage, by tenant.",
		}, []string{"tenant"}),
		TenantGCTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_tenant_gc_total",
			Help: "Idle tenant entries reaped from the concurrency gate.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.QueueDepth, m.QueueWaitTime,
		m.RateLimitRejections, m.BreakerState, m.BreakerFailures,
		m.BackendDuration, m.TokensProcessed, m.QuotaDailyTokens,
		m.QuotaMonthlyTokens, m.TenantGCTotal,
	)
	return m
}

// Handler exposes the registry in the standard exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnBreakerTransition is wired as the breaker registry's onTransition hook.
func (m *Metrics) OnBreakerTransition(backendURL string, state domain.CircuitState) {
	m.BreakerState.WithLabelValues(backendURL).Set(float64(state))
	if state == domain.CircuitOpen {
		m.BreakerFailures.WithLabelValues(backendURL).Inc()
	}
}
