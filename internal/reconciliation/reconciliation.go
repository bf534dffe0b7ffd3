// Package reconciliation sweeps for reservations and supporting records that
// drifted out of sync with the commit protocol: a payment that captured but
// whose reservation never reached CONFIRMED, a supplier request left
// dangling after a crash between T2 and T3, an outbox event that exhausted
// its retry budget, or an idempotency key nobody will ever look up again.
package reconciliation

import (
	"context"
	"log/slog"
)

// StuckPaymentChecker finds reservations whose payment captured but which
// never advanced to CONFIRMED within the stale window, and flags each one
// for operator attention by appending a reconciliation-needed outbox event.
// It returns how many it flagged.
type StuckPaymentChecker interface {
	CheckAndFlag(ctx context.Context) (int, error)
}

// OrphanedSupplierRequestChecker counts supplier booking requests that have
// sat in PENDING for longer than the supplier's timeout without a recorded
// response — the request may have succeeded or failed on the supplier's
// side with no reply ever reaching us.
type OrphanedSupplierRequestChecker interface {
	CountOrphaned(ctx context.Context) (int, error)
}

// PoisonOutboxChecker counts outbox events that exhausted their retry
// budget and landed in the poison queue (status FAILED, attempts at max).
type PoisonOutboxChecker interface {
	CountPoisoned(ctx context.Context) (int, error)
}

// ExpiredIdempotencyChecker counts idempotency keys past their TTL that are
// eligible for purge.
type ExpiredIdempotencyChecker interface {
	CountExpired(ctx context.Context) (int, error)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Healthy                bool `json:"healthy"`
	StuckPayments          int  `json:"stuckPayments"`
	OrphanedSupplierReqs   int  `json:"orphanedSupplierRequests"`
	PoisonedOutboxEvents   int  `json:"poisonedOutboxEvents"`
	ExpiredIdempotencyKeys int  `json:"expiredIdempotencyKeys"`
}

// Runner runs whichever checkers have been attached to it. Checkers are
// optional: a Runner built with none of them is a no-op that always
// reports healthy, which keeps it safe to wire into a server that hasn't
// configured every check yet.
type Runner struct {
	logger *slog.Logger

	stuckPayments   StuckPaymentChecker
	orphanedSupplier OrphanedSupplierRequestChecker
	poisonOutbox    PoisonOutboxChecker
	expiredIdemp    ExpiredIdempotencyChecker

	lastReport *Report
}

// NewRunner creates a Runner with no checkers attached.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// WithStuckPayments attaches the stuck-payment check.
func (r *Runner) WithStuckPayments(c StuckPaymentChecker) *Runner {
	r.stuckPayments = c
	return r
}

// WithOrphanedSupplierRequests attaches the orphaned-supplier-request check.
func (r *Runner) WithOrphanedSupplierRequests(c OrphanedSupplierRequestChecker) *Runner {
	r.orphanedSupplier = c
	return r
}

// WithPoisonOutbox attaches the poison-outbox check.
func (r *Runner) WithPoisonOutbox(c PoisonOutboxChecker) *Runner {
	r.poisonOutbox = c
	return r
}

// WithExpiredIdempotency attaches the expired-idempotency-key check.
func (r *Runner) WithExpiredIdempotency(c ExpiredIdempotencyChecker) *Runner {
	r.expiredIdemp = c
	return r
}

// RunAll runs every attached checker and returns a combined report. A
// checker that errors is logged and treated as zero for that pass rather
// than failing the whole sweep — one broken query shouldn't blind the
// other checks.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	report := &Report{Healthy: true}

	if r.stuckPayments != nil {
		n, err := r.stuckPayments.CheckAndFlag(ctx)
		if err != nil {
			reconcileErrors.Inc()
			r.logger.Warn("stuck payment check failed", "error", err)
		} else {
			report.StuckPayments = n
		}
	}

	if r.orphanedSupplier != nil {
		n, err := r.orphanedSupplier.CountOrphaned(ctx)
		if err != nil {
			reconcileErrors.Inc()
			r.logger.Warn("orphaned supplier request check failed", "error", err)
		} else {
			report.OrphanedSupplierReqs = n
		}
	}

	if r.poisonOutbox != nil {
		n, err := r.poisonOutbox.CountPoisoned(ctx)
		if err != nil {
			reconcileErrors.Inc()
			r.logger.Warn("poison outbox check failed", "error", err)
		} else {
			report.PoisonedOutboxEvents = n
		}
	}

	if r.expiredIdemp != nil {
		n, err := r.expiredIdemp.CountExpired(ctx)
		if err != nil {
			reconcileErrors.Inc()
			r.logger.Warn("expired idempotency check failed", "error", err)
		} else {
			report.ExpiredIdempotencyKeys = n
		}
	}

	report.Healthy = report.StuckPayments == 0 &&
		report.OrphanedSupplierReqs == 0 &&
		report.PoisonedOutboxEvents == 0

	reconcileStuckPayments.Set(float64(report.StuckPayments))
	reconcileOrphanedSupplierReqs.Set(float64(report.OrphanedSupplierReqs))
	reconcilePoisonedOutbox.Set(float64(report.PoisonedOutboxEvents))
	reconcileExpiredIdempotency.Set(float64(report.ExpiredIdempotencyKeys))

	r.lastReport = report
	return report, nil
}

// LastReport returns the result of the most recent RunAll, or nil if the
// runner has never run.
func (r *Runner) LastReport() *Report {
	return r.lastReport
}
