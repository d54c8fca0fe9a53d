package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the claim state machine.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	DeadLetters     *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec
	ExpiryBatchSize prometheus.Histogram
}

// New creates and registers all instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keyclaims_transitions_total",
			Help: "Transition handler invocations by handler and outcome",
		}, []string{"handler", "outcome"}),
		DeadLetters: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "keyclaims_dead_letters_total",
			Help: "Messages routed to a dead-letter topic, by origin topic",
		}, []string{"topic"}),
		GatewayDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keyclaims_directory_call_duration_seconds",
			Help:    "Latency of directory gateway calls, by invoking transition handler",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler"}),
		ExpiryBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "keyclaims_expiry_batch_size",
			Help:    "Claims processed per expiry-sync tick",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
	}
}

// Outcome labels for the Transitions counter.
const (
	OutcomeApplied    = "applied"
	OutcomeNoop       = "noop"
	OutcomeRejected   = "rejected"
	OutcomeDeadLetter = "dead_letter"
	OutcomeError      = "error"
)

// IncTransition records one handler invocation.
func (m *Metrics) IncTransition(handler, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(handler, outcome).Inc()
}

// IncDeadLetter records one dead-letter routing.
func (m *Metrics) IncDeadLetter(topic string) {
	if m == nil {
		return
	}
	m.DeadLetters.WithLabelValues(topic).Inc()
}

// ObserveGateway records one gateway call's latency under the handler that
// made it.
func (m *Metrics) ObserveGateway(handler string, seconds float64) {
	if m == nil {
		return
	}
	m.GatewayDuration.WithLabelValues(handler).Observe(seconds)
}

// ObserveExpiryBatch records the size of one scheduler batch.
func (m *Metrics) ObserveExpiryBatch(n int) {
	if m == nil {
		return
	}
	m.ExpiryBatchSize.Observe(float64(n))
}
