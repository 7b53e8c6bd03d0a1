package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SessionsOpenedTotal counts table sessions opened per store.
	SessionsOpenedTotal *prometheus.CounterVec
	// SessionsClosedTotal counts table session settlements per store.
	SessionsClosedTotal *prometheus.CounterVec
	// BillsComputedTotal counts bill breakdown computations by kind (preview or settlement).
	BillsComputedTotal *prometheus.CounterVec
	// BillTotalYen observes settled bill totals in yen.
	BillTotalYen *prometheus.HistogramVec
	// OrdersPlacedTotal counts order lines added to sessions.
	OrdersPlacedTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal tracks webhook dispatch outcomes.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
	// WebhookDispatchAttempts counts dispatcher attempts regardless of outcome.
	WebhookDispatchAttempts prometheus.Counter
	// WebhookDispatchDLQ counts deliveries moved to dead-letter queue.
	WebhookDispatchDLQ prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SessionsOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Count of table sessions opened.",
		}, []string{"store"})
		SessionsClosedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Count of table sessions settled.",
		}, []string{"store"})
		BillsComputedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_computed_total",
			Help:      "Count of bill breakdown computations by kind.",
		}, []string{"kind"})
		BillTotalYen = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bill_total_yen",
			Help:      "Distribution of settled bill totals in yen.",
			Buckets:   []float64{5000, 10000, 20000, 50000, 100000, 250000, 500000, 1000000},
		}, []string{"store"})
		OrdersPlacedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Count of order lines added to table sessions.",
		}, []string{"store"})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery outcomes.",
		}, []string{"result"})
		WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		WebhookDispatchAttempts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dispatch_attempts_total",
			Help:      "Count of webhook dispatch attempts.",
		})
		WebhookDispatchDLQ = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dispatch_dlq_total",
			Help:      "Count of webhook deliveries dead-lettered.",
		})

		for _, c := range []prometheus.Collector{
			SessionsOpenedTotal, SessionsClosedTotal, BillsComputedTotal, BillTotalYen,
			OrdersPlacedTotal, WebhookDeliveriesTotal, WebhookAttemptLatency,
			WebhookDispatchAttempts, WebhookDispatchDLQ,
		} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}
