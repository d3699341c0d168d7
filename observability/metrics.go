package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaborage/e2e-gateway/fetch"
)

const namespace = "gateway"

// Metrics holds the gateway's prometheus instruments. It implements
// fetch.Observer so upstream attempts are counted without the fetch package
// knowing about prometheus.
type Metrics struct {
	registry *prometheus.Registry

	// UpstreamAttempts counts every network try by endpoint and attempt kind
	UpstreamAttempts *prometheus.CounterVec

	// UpstreamAttemptLatency tracks single attempt latency
	UpstreamAttemptLatency *prometheus.HistogramVec

	// UpstreamBackoff accumulates time spent waiting between retries
	UpstreamBackoff *prometheus.CounterVec

	// UpstreamCalls counts finished logical calls by result
	UpstreamCalls *prometheus.CounterVec

	// UpstreamCallLatency tracks whole call latency including retries
	UpstreamCallLatency *prometheus.HistogramVec

	// HTTPRequests counts inbound requests by route and status
	HTTPRequests *prometheus.CounterVec

	// HTTPLatency tracks inbound request latency
	HTTPLatency *prometheus.HistogramVec

	// ComponentUp reports the last health probe result per component
	ComponentUp *prometheus.GaugeVec
}

var _ fetch.Observer = (*Metrics)(nil)

// upstreamBuckets cover quick health probes up to long agent runs
var upstreamBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// NewMetrics registers the gateway instruments on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		UpstreamAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_attempts_total",
				Help:      "Total number of upstream attempts",
			},
			[]string{"endpoint", "kind"},
		),
		UpstreamAttemptLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_attempt_duration_seconds",
				Help:      "Upstream attempt latency in seconds",
				Buckets:   upstreamBuckets,
			},
			[]string{"endpoint"},
		),
		UpstreamBackoff: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_backoff_seconds_total",
				Help:      "Total time spent in retry backoff",
			},
			[]string{"endpoint"},
		),
		UpstreamCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "Total number of logical upstream calls by result",
			},
			[]string{"endpoint", "result"},
		),
		UpstreamCallLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_call_duration_seconds",
				Help:      "Upstream call latency including retries",
				Buckets:   upstreamBuckets,
			},
			[]string{"endpoint"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of inbound HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Inbound HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ComponentUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_up",
				Help:      "Whether the last health probe of a component succeeded",
			},
			[]string{"component"},
		),
	}
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAttempt(endpoint string, a fetch.Attempt) {
	m.UpstreamAttempts.WithLabelValues(endpoint, string(a.Kind)).Inc()
	m.UpstreamAttemptLatency.WithLabelValues(endpoint).Observe(a.Elapsed.Seconds())
}

func (m *Metrics) ObserveBackoff(endpoint string, d time.Duration) {
	m.UpstreamBackoff.WithLabelValues(endpoint).Add(d.Seconds())
}

func (m *Metrics) ObserveOutcome(endpoint string, o *fetch.Outcome) {
	result := "success"
	if o.Failure != nil {
		result = string(o.Failure.Kind)
	}
	m.UpstreamCalls.WithLabelValues(endpoint, result).Inc()
	m.UpstreamCallLatency.WithLabelValues(endpoint).Observe(o.Elapsed.Seconds())
}

// ObserveRequest records one inbound request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// SetComponentUp records a health probe result.
func (m *Metrics) SetComponentUp(component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.ComponentUp.WithLabelValues(component).Set(v)
}
