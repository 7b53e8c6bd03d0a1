package queue

import "github.com/prometheus/client_golang/prometheus"

// Depth and DLQ size are refreshed lazily from the admin endpoints rather
// than polled, so treat them as last-observed values.
var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "club",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Last observed count of ready tasks per kind",
		},
		[]string{"kind"},
	)
	QueueProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "club",
			Subsystem: "queue",
			Name:      "processed_total",
			Help:      "Tasks processed per kind grouped by outcome",
		},
		[]string{"kind", "status"},
	)
	QueueDLQSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "club",
			Subsystem: "queue",
			Name:      "dlq_size",
			Help:      "Last observed count of dead-lettered tasks per kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth, QueueProcessedTotal, QueueDLQSize)
}
