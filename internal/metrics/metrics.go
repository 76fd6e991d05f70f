package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle outcome labels beyond the audit outcomes.
const (
	OutcomeDataUnavailable = "data_unavailable"
	OutcomeError           = "error"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_brain",
			Name:      "cycles_total",
			Help:      "Total number of analysis cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentinel_brain",
			Name:      "cycle_seconds",
			Help:      "Analysis cycle latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 45},
		},
	)

	synthesisAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sentinel_brain",
			Name:      "synthesis_attempts",
			Help:      "Generation attempts needed per cycle.",
			Buckets:   []float64{1, 2},
		},
	)

	retrievalDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel_brain",
			Name:      "retrieval_degraded_total",
			Help:      "Cycles that ran without playbook context.",
		},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_brain",
			Name:      "escalations_total",
			Help:      "Operator escalations raised, partitioned by reason kind.",
		},
		[]string{"kind"},
	)

	triggerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel_brain",
			Name:      "trigger_events_total",
			Help:      "Telemetry batch events consumed, partitioned by result.",
		},
		[]string{"result"},
	)
)

// Register attaches sentinel-brain collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		synthesisAttempts,
		retrievalDegradedTotal,
		escalationsTotal,
		triggerEventsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	if outcome == "" {
		outcome = OutcomeError
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveSynthesisAttempts records how many generation calls a cycle made.
func ObserveSynthesisAttempts(n int) {
	if n > 0 {
		synthesisAttempts.Observe(float64(n))
	}
}

// IncRetrievalDegraded counts a cycle without playbook context.
func IncRetrievalDegraded() {
	retrievalDegradedTotal.Inc()
}

// IncEscalation counts an operator escalation.
func IncEscalation(kind string) {
	escalationsTotal.WithLabelValues(kind).Inc()
}

// IncTriggerEvent counts a consumed trigger event.
func IncTriggerEvent(result string) {
	triggerEventsTotal.WithLabelValues(result).Inc()
}
