package dunning

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated by every pass.
type Metrics struct {
	Items         *prometheus.CounterVec
	PassDuration  prometheus.Histogram
	Escalations   prometheus.Counter
	Cancellations *prometheus.CounterVec
	LastPass      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "dunning",
			Name:      "items_total",
			Help:      "Subscriptions handled by the dunning pass by phase and result.",
		}, []string{"phase", "result"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "billing",
			Subsystem: "dunning",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full dunning pass.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "dunning",
			Name:      "escalations_total",
			Help:      "Escalation notifications raised for repeated payment failures.",
		}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "dunning",
			Name:      "cancellations_total",
			Help:      "Subscriptions ended by the dunning pass by reason.",
		}, []string{"reason"}),
		LastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "billing",
			Subsystem: "dunning",
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last dunning pass finished.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Items, m.PassDuration, m.Escalations, m.Cancellations, m.LastPass)
	}
	return m
}
