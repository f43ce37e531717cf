package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whgw_deliveries_total",
			Help: "Delivery attempts by outcome",
		},
		[]string{"outcome"}, // succeeded|retry|failed|dlq
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whgw_delivery_duration_seconds",
			Help:    "HTTP duration of delivery attempts",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"outcome"},
	)

	BreakerOpenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whgw_breaker_open_total",
		Help: "Endpoint circuit breakers opened",
	})

	FanoutDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whgw_fanout_deferred_total",
			Help: "Deliveries deferred at admission by gate",
		},
		[]string{"gate"}, // breaker|concurrency
	)

	OutboxPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whgw_outbox_published_total",
		Help: "Outbox events published to the events topic",
	})

	RetryDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whgw_retry_dispatched_total",
		Help: "Jobs published to the retry topic",
	})

	JobsReclaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whgw_jobs_reclaimed_total",
		Help: "Stale IN_PROGRESS jobs returned to PENDING",
	})

	AttemptsExportedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "whgw_attempts_exported_total",
		Help: "Delivery attempts written to ClickHouse",
	})
)

var registerOnce sync.Once

// MustRegister registers all collectors once; later calls are no-ops so the
// serve and worker commands can share a process.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			DeliveriesTotal,
			DeliveryDuration,
			BreakerOpenTotal,
			FanoutDeferredTotal,
			OutboxPublishedTotal,
			RetryDispatchedTotal,
			JobsReclaimedTotal,
			AttemptsExportedTotal,
		)
	})
}
