package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the domain-level prometheus counters.
type Metrics struct {
	webhookEvents     *prometheus.CounterVec
	entitlementChecks *prometheus.CounterVec
	ledgerIncrements  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usagegate_webhook_events_total",
			Help: "Inbound conversation webhook events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		entitlementChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usagegate_entitlement_checks_total",
			Help: "Entitlement evaluations by action and outcome.",
		}, []string{"action", "outcome"}),
		ledgerIncrements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usagegate_ledger_increments_total",
			Help: "Usage ledger counter increments by counter name.",
		}, []string{"counter"}),
	}
}

func (m *Metrics) RecordWebhookEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordEntitlementCheck(action, outcome string) {
	if m == nil {
		return
	}
	m.entitlementChecks.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) RecordLedgerIncrement(counter string, delta int64) {
	if m == nil || delta <= 0 {
		return
	}
	m.ledgerIncrements.WithLabelValues(counter).Add(float64(delta))
}

// HTTPMetrics instruments the gin engine.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usagegate_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usagegate_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

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
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
