package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proposal_sync_delivered_total",
		Help: "Sync items delivered to the legacy mirror.",
	}, []string{"table"})

	retriedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proposal_sync_retried_total",
		Help: "Sync item attempts that failed and were rescheduled.",
	}, []string{"table"})

	failedPermanentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proposal_sync_failed_permanent_total",
		Help: "Sync items parked after exhausting retries or failing permanently.",
	}, []string{"table"})

	deliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proposal_sync_delivery_duration_seconds",
		Help:    "Latency of mirror writes.",
		Buckets: prometheus.DefBuckets,
	}, []string{"table", "outcome"})

	itemsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proposal_sync_items",
		Help: "Sync items per status, refreshed by the reconciler.",
	}, []string{"status"})
)

func observeDelivery(table string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	deliveryDuration.WithLabelValues(table, outcome).Observe(elapsed.Seconds())
}

// RecordStatusCounts publishes queue depth per status.
func RecordStatusCounts(counts map[Status]int64) {
	for status, n := range counts {
		itemsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
