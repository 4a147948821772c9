// Package metrics exposes prometheus instruments for the gateway pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the application-level instruments.
type Metrics struct {
	gatewayRequests *prometheus.CounterVec
	creditsCharged  prometheus.Counter
	ledgerEntries   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	rateLimitDenied prometheus.Counter
}

// New registers and returns the domain instruments.
func New() *Metrics {
	return &Metrics{
		gatewayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credgate_gateway_requests_total",
			Help: "Gateway requests by terminal status.",
		}, []string{"status", "provider", "model"}),
		creditsCharged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credgate_credits_charged_total",
			Help: "Total credits charged through the gateway.",
		}),
		ledgerEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credgate_ledger_entries_total",
			Help: "Ledger entries appended by transaction type.",
		}, []string{"type"}),
		providerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credgate_provider_latency_seconds",
			Help:    "Upstream provider call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		rateLimitDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credgate_rate_limit_denied_total",
			Help: "Requests rejected by the RPM limiter.",
		}),
	}
}

func (m *Metrics) RecordGatewayRequest(status, provider, model string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(status, provider, model).Inc()
}

func (m *Metrics) RecordCreditsCharged(credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.creditsCharged.Add(float64(credits))
}

func (m *Metrics) RecordLedgerEntry(txType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(txType).Inc()
}

func (m *Metrics) RecordProviderLatency(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RecordRateLimitDenied() {
	if m == nil {
		return
	}
	m.rateLimitDenied.Inc()
}

// HTTPMetrics instruments inbound HTTP traffic.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credgate_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credgate_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// GinMiddleware records request counts and latencies.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
