package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "school_transfer"

// MetricsService owns the Prometheus registry for the transfer API. All
// methods tolerate a nil receiver.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpLatency  *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	messages     prometheus.Counter
	deliveries   *prometheus.CounterVec
	identityHits *prometheus.CounterVec
	identityRead *prometheus.HistogramVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	m := &MetricsService{registry: prometheus.NewRegistry()}

	m.httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "transitions_total",
		Help:      "Completed workflow transitions.",
	}, []string{"transition"})

	m.messages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "negotiation_messages_total",
		Help:      "Messages appended to negotiation threads.",
	})

	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "event_deliveries_total",
		Help:      "Transfer event deliveries by sink and outcome.",
	}, []string{"sink", "outcome"})

	m.identityHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "identity_cache_lookups_total",
		Help:      "Identity cache lookups by kind and result.",
	}, []string{"kind", "result"})

	m.identityRead = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "identity_cache_duration_seconds",
		Help:      "Identity cache round trips by operation.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	}, []string{"op"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "goroutines",
		Help:      "Live goroutines.",
	}, func() float64 { return float64(runtime.NumGoroutine()) })

	m.registry.MustRegister(m.httpLatency, m.transitions, m.messages, m.deliveries,
		m.identityHits, m.identityRead, goroutines)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordTransition counts a completed workflow transition.
func (m *MetricsService) RecordTransition(name string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name).Inc()
}

func (m *MetricsService) ObserveNegotiationMessage() {
	if m == nil {
		return
	}
	m.messages.Inc()
}

// RecordEventDelivery counts one delivery attempt of a transfer event.
func (m *MetricsService) RecordEventDelivery(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.deliveries.WithLabelValues(sink, outcome).Inc()
}

// RecordIdentityLookup counts a cache read for a school or student identity.
func (m *MetricsService) RecordIdentityLookup(kind string, hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.identityHits.WithLabelValues(kind, result).Inc()
	m.identityRead.WithLabelValues("get").Observe(duration.Seconds())
}

func (m *MetricsService) ObserveIdentityWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.identityRead.WithLabelValues("set").Observe(duration.Seconds())
}
