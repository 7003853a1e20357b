package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TheusHen/DRatchet/dratchet/ratchet"
)

// Metrics are the Prometheus collectors shared by sessions.
type Metrics struct {
	established *prometheus.CounterVec
	messages    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	steps       prometheus.Counter
	active      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		established: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dratchet",
			Name:      "sessions_established_total",
			Help:      "Sessions established, by role.",
		}, []string{"role"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dratchet",
			Name:      "messages_total",
			Help:      "Messages processed, by direction.",
		}, []string{"direction"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dratchet",
			Name:      "receive_failures_total",
			Help:      "Rejected envelopes, by error kind.",
		}, []string{"kind"}),
		steps: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dratchet",
			Name:      "ratchet_steps_total",
			Help:      "DH ratchet steps.",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "dratchet",
			Name:      "sessions_active",
			Help:      "Sessions not yet closed.",
		}),
	}
}

func (m *Metrics) sessionOpened(role Role) {
	if m == nil {
		return
	}
	m.established.WithLabelValues(role.String()).Inc()
	m.active.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) message(direction string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction).Inc()
}

func (m *Metrics) failure(err error) {
	if m == nil {
		return
	}
	kind := ratchet.KindOf(err)
	label := "other"
	if kind != 0 {
		label = kind.String()
	}
	m.failures.WithLabelValues(label).Inc()
}

func (m *Metrics) ratchetSteps(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.steps.Add(float64(n))
}
