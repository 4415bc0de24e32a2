package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for request metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Metrics groups the client's socket instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pushEventsTotal *prometheus.CounterVec
	connected       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cldzchat_socket_requests_total",
				Help: "Total number of socket requests by event and outcome.",
			},
			[]string{"event", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cldzchat_socket_request_duration_seconds",
				Help:    "Time from request emission to ack.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		),
		pushEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cldzchat_socket_push_events_total",
				Help: "Total number of server push events received.",
			},
			[]string{"event"},
		),
		connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cldzchat_socket_connected",
				Help: "1 while the socket connection is up.",
			},
		),
	}
	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.pushEventsTotal, m.connected)
	return m
}

func (m *Metrics) ObserveRequest(event, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(event, outcome).Inc()
	m.requestDuration.WithLabelValues(event).Observe(elapsed.Seconds())
}

func (m *Metrics) IncPushEvent(event string) {
	if m == nil {
		return
	}
	m.pushEventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
