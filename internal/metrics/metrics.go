// Package metrics exposes Prometheus metrics for console requests, backend
// calls and the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperengineering/bidkit/internal/events"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

const namespace = "bidkit"

// Metrics holds the collectors on a private registry so tests and multiple
// servers never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	events          *prometheus.CounterVec
	sseClients      prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "console",
			Name:      "requests_total",
			Help:      "Console HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "console",
			Name:      "request_duration_seconds",
			Help:      "Console HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "calls_total",
			Help:      "Backend API calls by resource, method and outcome.",
		}, []string{"resource", "method", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_duration_seconds",
			Help:      "Backend API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published by kind.",
		}, []string{"kind"}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "stream_clients",
			Help:      "Open event stream connections.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.upstreamCalls,
		m.upstreamLatency,
		m.events,
		m.sseClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one console request.
func (m *Metrics) ObserveRequest(route, method string, status int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(seconds)
}

// Outcome buckets a backend status for labelling.
func Outcome(status int) string {
	switch {
	case status == 0:
		return "transport_error"
	case status < 300:
		return "ok"
	case status == http.StatusNotFound:
		return "not_found"
	case status < 500:
		return "client_error"
	default:
		return "server_error"
	}
}

// ObserveCall records one backend call. It matches bidapi.Config.Observe.
func (m *Metrics) ObserveCall(c bidapi.Call) {
	m.upstreamCalls.WithLabelValues(c.Resource, c.Method, Outcome(c.Status)).Inc()
	m.upstreamLatency.WithLabelValues(c.Resource).Observe(c.Duration.Seconds())
}

// EventPublished counts a published event.
func (m *Metrics) EventPublished(kind string) {
	m.events.WithLabelValues(kind).Inc()
}

// StreamOpened and StreamClosed track event stream connections.
func (m *Metrics) StreamOpened() { m.sseClients.Inc() }

func (m *Metrics) StreamClosed() { m.sseClients.Dec() }

type instrumentedBus struct {
	events.Bus
	m *Metrics
}

func (b instrumentedBus) Publish(ctx context.Context, e events.Event) error {
	if err := b.Bus.Publish(ctx, e); err != nil {
		return err
	}
	b.m.EventPublished(string(e.Kind))
	return nil
}

// InstrumentBus counts every event successfully published through bus.
func (m *Metrics) InstrumentBus(bus events.Bus) events.Bus {
	return instrumentedBus{Bus: bus, m: m}
}
