package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "srsync"

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsAccepted prometheus.Counter
	sessionsClosed   *prometheus.CounterVec
	messages         *prometheus.CounterVec
	decodeErrors     prometheus.Counter
	replies          *prometheus.CounterVec
	writeErrors      prometheus.Counter
	droppedPings     prometheus.Counter
	registryClients  prometheus.Gauge
	broadcastFanout  prometheus.Histogram
}

// New registers the collectors with registerer. A nil registerer uses the
// Prometheus default registry.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Current number of open client sessions",
		}),
		sessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_accepted_total",
			Help:      "Total number of accepted client connections",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of closed sessions by reason",
		}, []string{"reason"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_received_total",
			Help:      "Total number of decoded inbound messages by type",
		}, []string{"type"}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of inbound frames that failed to decode",
		}),
		replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "replies_queued_total",
			Help:      "Total number of reply frames queued by target",
		}, []string{"target"}),
		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "write_errors_total",
			Help:      "Total number of failed socket writes",
		}),
		droppedPings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pings_dropped_total",
			Help:      "Total number of heartbeats from unregistered clients",
		}),
		registryClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "registry_clients",
			Help:      "Current number of registered clients",
		}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "broadcast_fanout_sessions",
			Help:      "Number of sessions a broadcast reply was queued to",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsAccepted.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) ReplyQueued(target string, n int) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(target).Add(float64(n))
}

func (m *Metrics) WriteError() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}

func (m *Metrics) PingDropped() {
	if m == nil {
		return
	}
	m.droppedPings.Inc()
}

func (m *Metrics) SetRegistryClients(n int) {
	if m == nil {
		return
	}
	m.registryClients.Set(float64(n))
}

func (m *Metrics) ObserveBroadcast(sessions int) {
	if m == nil {
		return
	}
	m.broadcastFanout.Observe(float64(sessions))
}
