package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileStuckPayments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit",
		Subsystem: "reconciliation",
		Name:      "stuck_payments",
		Help:      "Number of PAID reservations flagged as stuck short of CONFIRMED in the last reconciliation run.",
	})

	reconcileOrphanedSupplierReqs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit",
		Subsystem: "reconciliation",
		Name:      "orphaned_supplier_requests",
		Help:      "Number of supplier requests left in PENDING past the call timeout in the last reconciliation run.",
	})

	reconcilePoisonedOutbox = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit",
		Subsystem: "reconciliation",
		Name:      "poisoned_outbox_events",
		Help:      "Number of outbox events that exhausted their retry budget in the last reconciliation run.",
	})

	reconcileExpiredIdempotency = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carorbit",
		Subsystem: "reconciliation",
		Name:      "expired_idempotency_keys",
		Help:      "Number of idempotency keys past their TTL in the last reconciliation run.",
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carorbit",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation checker errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileStuckPayments,
		reconcileOrphanedSupplierReqs,
		reconcilePoisonedOutbox,
		reconcileExpiredIdempotency,
		reconcileErrors,
	)
}
