// Package api provides Prometheus metrics and the gRPC health service for relay nodes.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a node.
type Metrics struct {
	Registry *prometheus.Registry

	// Gossip metrics
	MessagesBroadcast prometheus.Counter
	MessagesReceived  prometheus.Counter
	MessagesDuplicate prometheus.Counter
	MessagesRelayed   prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	SendFailures      prometheus.Counter
	DispatchLatency   prometheus.Histogram

	// Connection metrics
	ConnectAttempts *prometheus.CounterVec
	OutboundPeers   prometheus.Gauge
	InboundPeers    prometheus.Gauge
	UsersOnline     prometheus.Gauge
	SeenCacheSize   prometheus.Gauge

	// Worker pool metrics
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge
}

// NewMetrics creates metrics registered on their own registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates metrics registered on reg.
func NewMetricsWithRegistry(namespace string, reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		MessagesBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_broadcast_total",
			Help:      "Total number of messages originated by this node",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of gossip envelopes received from peers",
		}),
		MessagesDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_duplicate_total",
			Help:      "Total number of envelopes discarded as already seen",
		}),
		MessagesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Total number of envelope copies forwarded to peers",
		}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by reason",
		}, []string{"reason"}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Total number of failed sends to peers or users",
		}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent relaying and dispatching a new envelope",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),

		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Outbound connect attempts by result",
		}, []string{"result"}),
		OutboundPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_peers",
			Help:      "Current number of outbound peer links",
		}),
		InboundPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbound_peers",
			Help:      "Current number of registered inbound peers",
		}),
		UsersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_online",
			Help:      "Current number of users in the online directory",
		}),
		SeenCacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seen_cache_entries",
			Help:      "Current number of entries in the seen-messages cache",
		}),

		WorkerPoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of active connect workers",
		}),
		WorkerPoolPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of queued connect attempts",
		}),
	}
}

// RegisterRuntimeCollectors adds Go runtime and process collectors to the registry.
func (m *Metrics) RegisterRuntimeCollectors() {
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordConnect records the outcome of an outbound connect attempt.
func (m *Metrics) RecordConnect(result string) {
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

// RecordDispatch records handling of a new envelope.
func (m *Metrics) RecordDispatch(relayed int, duration time.Duration) {
	m.MessagesRelayed.Add(float64(relayed))
	m.DispatchLatency.Observe(duration.Seconds())
}

// RecordDrop records a dropped inbound frame.
func (m *Metrics) RecordDrop(reason string) {
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// UpdatePeers updates the peer gauges.
func (m *Metrics) UpdatePeers(outbound, inbound int) {
	m.OutboundPeers.Set(float64(outbound))
	m.InboundPeers.Set(float64(inbound))
}

// UpdateWorkerPool updates worker pool gauges.
func (m *Metrics) UpdateWorkerPool(active, pending int) {
	m.WorkerPoolActive.Set(float64(active))
	m.WorkerPoolPending.Set(float64(pending))
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
