package dashboard

import "github.com/prometheus/client_golang/prometheus"

// Transition outcomes recorded in triagedesk_transitions_total.
const (
	OutcomeApplied         = "applied"
	OutcomeInvalid         = "invalid"
	OutcomeInFlight        = "in_flight"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeConfirmed       = "confirmed"
	OutcomeReverted        = "reverted"
	OutcomeCleared         = "cleared"
	OutcomeStale           = "stale"
)

// Metrics holds Prometheus metrics for dashboard surfaces. A nil *Metrics
// records nothing.
type Metrics struct {
	TransitionsTotal *prometheus.CounterVec
	ConfirmDuration  *prometheus.HistogramVec
	IngestsTotal     *prometheus.CounterVec
	BatchSize        *prometheus.GaugeVec
	InFlight         *prometheus.GaugeVec
	LayoutIterations *prometheus.HistogramVec
}

// NewMetrics registers and returns dashboard metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_transitions_total",
			Help: "Status transitions by surface and outcome.",
		}, []string{"surface", "outcome"}),
		ConfirmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triagedesk_confirm_duration_seconds",
			Help:    "Authority confirmation round trip in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"surface"}),
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_ingests_total",
			Help: "Batch ingestions by surface and result.",
		}, []string{"surface", "result"}),
		BatchSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triagedesk_batch_transactions",
			Help: "Transactions in the current batch.",
		}, []string{"surface"}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triagedesk_transitions_in_flight",
			Help: "Transitions awaiting authority confirmation.",
		}, []string{"surface"}),
		LayoutIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triagedesk_layout_iterations",
			Help:    "Force layout steps taken to settle a graph.",
			Buckets: prometheus.LinearBuckets(0, 25, 14), // 0 .. 325
		}, []string{"surface"}),
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.ConfirmDuration,
		m.IngestsTotal,
		m.BatchSize,
		m.InFlight,
		m.LayoutIterations,
	)

	return m
}

func (m *Metrics) transition(k Kind, outcome string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(string(k), outcome).Inc()
}

func (m *Metrics) confirmed(k Kind, seconds float64) {
	if m == nil {
		return
	}
	m.ConfirmDuration.WithLabelValues(string(k)).Observe(seconds)
}

func (m *Metrics) ingest(k Kind, result string) {
	if m == nil {
		return
	}
	m.IngestsTotal.WithLabelValues(string(k), result).Inc()
}

func (m *Metrics) state(k Kind, size, inflight int) {
	if m == nil {
		return
	}
	m.BatchSize.WithLabelValues(string(k)).Set(float64(size))
	m.InFlight.WithLabelValues(string(k)).Set(float64(inflight))
}

func (m *Metrics) layout(k Kind, iterations int) {
	if m == nil {
		return
	}
	m.LayoutIterations.WithLabelValues(string(k)).Observe(float64(iterations))
}
