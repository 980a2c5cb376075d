package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	messagesTotal   *prometheus.CounterVec
	analyzeDuration prometheus.Histogram
	broadcastsTotal prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "joblens",
			Subsystem: "coordinator",
			Name:      "messages_total",
			Help:      "Messages handled by the coordinator, by action and outcome.",
		}, []string{"action", "outcome"}),
		analyzeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "joblens",
			Subsystem: "coordinator",
			Name:      "analyze_duration_seconds",
			Help:      "End-to-end duration of analyze requests.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		broadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "joblens",
			Subsystem: "coordinator",
			Name:      "auth_broadcasts_total",
			Help:      "Auth state broadcasts published.",
		}),
	}
}

func (m *metrics) observeMessage(action, outcome string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(action, outcome).Inc()
}
