package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are package level so every breaker and client shares them; the
// "target" label names the upstream (gateway, remote orders, ...).
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "upstream",
		Name:      "breaker_state",
		Help:      "Breaker state per upstream (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})

	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upstream",
		Name:      "breaker_transitions_total",
		Help:      "Breaker state changes per upstream.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upstream",
		Name:      "breaker_opened_total",
		Help:      "Times the breaker tripped open per upstream.",
	}, []string{"target"})

	RemoteAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upstream",
		Name:      "attempts_total",
		Help:      "Outbound HTTP attempts per upstream, by outcome (ok, error, rejected).",
	}, []string{"target", "outcome"})

	RemoteAttemptSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "upstream",
		Name:      "attempt_duration_seconds",
		Help:      "Latency of single outbound HTTP attempts.",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"target"})
)

// RegisterMetrics registers the collectors on reg, tolerating a second call
// against the same registry.
func RegisterMetrics(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range []prometheus.Collector{BreakerState, BreakerTransitions, BreakerOpenedTotal, RemoteAttemptsTotal, RemoteAttemptSeconds} {
		err := reg.Register(c)
		var dup prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &dup) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
