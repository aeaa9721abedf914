package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wardgate"

// Metrics holds the Prometheus collectors shared by the HTTP layer and the
// authorization engine.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration prometheus.Histogram
	SweepRunsTotal   *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	PendingRequests  prometheus.Gauge
	registry         prometheus.Gatherer
}

// NewMetrics registers the collectors with reg. A nil reg gets a private
// registry so tests and embedded engines never collide on the global one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"code", "method", "path"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of latencies for HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"code", "method", "path"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authz_decisions_total",
				Help:      "Authorization decisions by outcome.",
			},
			[]string{"outcome"},
		),
		DecisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "authz_decision_duration_seconds",
				Help:      "Latency of authorization decisions.",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Background sweep executions by job and result.",
			},
			[]string{"job", "result"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events dropped because the dispatch queue was full.",
			},
		),
		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "access_requests_pending",
				Help:      "Access requests awaiting a decision.",
			},
		),
		registry: gatherer,
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.SweepRunsTotal,
		m.EventsDropped,
		m.PendingRequests,
	)
	return m
}

// ObserveDecision records one authorization outcome ("allowed", "denied" or "error").
func (m *Metrics) ObserveDecision(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(outcome).Inc()
	m.DecisionDuration.Observe(elapsed.Seconds())
}

// ObserveSweep records one background job run.
func (m *Metrics) ObserveSweep(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SweepRunsTotal.WithLabelValues(job, result).Inc()
}

// PrometheusMiddleware returns a Gin middleware that records Prometheus metrics for HTTP requests.
func PrometheusMiddleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		statusCode := strconv.Itoa(c.Writer.Status())
		// Route templates keep label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		metrics.RequestsTotal.WithLabelValues(statusCode, method, path).Inc()
		metrics.RequestDuration.WithLabelValues(statusCode, method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns an http.Handler exposing the collectors registered through NewMetrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
