package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker gauges are labelled by target so the webhook breaker and any
// future outbound dependency report independently.
var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "club",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Breaker state per target: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "club",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Breaker state transitions per target",
		},
		[]string{"target", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "club",
			Subsystem: "breaker",
			Name:      "opened_total",
			Help:      "Times a breaker tripped open per target",
		},
		[]string{"target"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
