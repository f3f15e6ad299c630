package presence

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the coordinator's prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections   prometheus.Gauge
	events        *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	swept         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "metaform_presence_connections",
			Help: "Live connections handled by this process",
		}),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metaform_presence_events_total",
				Help: "Inbound presence events by outcome",
			},
			[]string{"event", "outcome"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metaform_presence_store_errors_total",
				Help: "Socket store failures by operation",
			},
			[]string{"op"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metaform_presence_notifications_total",
				Help: "Outbound lock notifications",
			},
			[]string{"kind", "scope"},
		),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "metaform_presence_swept_total",
			Help: "Stale socket entries removed by the reconciler",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.events, m.storeErrors, m.notifications, m.swept)
	}
	return m
}

func (m *Metrics) connected() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) disconnected() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) event(name, outcome string) {
	if m != nil {
		m.events.WithLabelValues(name, outcome).Inc()
	}
}

func (m *Metrics) storeError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) notified(kind, scope string) {
	if m != nil {
		m.notifications.WithLabelValues(kind, scope).Inc()
	}
}

func (m *Metrics) sweptEntry() {
	if m != nil {
		m.swept.Inc()
	}
}
