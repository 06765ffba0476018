package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskflow"

// Delivery outcomes.
const (
	OutcomeAck  = "ack"
	OutcomeNack = "nack"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Email results.
const (
	EmailSent    = "sent"
	EmailSkipped = "skipped"
	EmailFailed  = "failed"
)

// Metrics owns a private registry so several instances can coexist in one
// process (tests, the combined dev binary).
type Metrics struct {
	registry *prometheus.Registry

	BrokerState          prometheus.Gauge
	Published            *prometheus.CounterVec
	Dropped              *prometheus.CounterVec
	Deliveries           *prometheus.CounterVec
	CacheRequests        *prometheus.CounterVec
	NotificationsCreated *prometheus.CounterVec
	Emails               *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BrokerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_state",
			Help:      "Broker client state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_published_total",
			Help:      "Messages handed to the broker.",
		}, []string{"queue"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_dropped_total",
			Help:      "Messages dropped because the broker was unavailable or rejected them.",
		}, []string{"queue"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_deliveries_total",
			Help:      "Consumed messages by outcome.",
		}, []string{"queue", "outcome"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		NotificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notifications materialized from events.",
		}, []string{"type"}),
		Emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Notification emails by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BrokerState,
		m.Published,
		m.Dropped,
		m.Deliveries,
		m.CacheRequests,
		m.NotificationsCreated,
		m.Emails,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
