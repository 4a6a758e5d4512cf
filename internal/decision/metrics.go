package decision

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the decision authority.
type Metrics struct {
	DecisionsTotal *prometheus.CounterVec
	NotifyTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns decision metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_decisions_total",
			Help: "Confirmation requests by surface, target status and result.",
		}, []string{"surface", "to", "result"}),
		NotifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_decision_notifications_total",
			Help: "Decision notifications by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.NotifyTotal,
	)

	return m
}
