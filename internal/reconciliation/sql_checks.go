package reconciliation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OutboxAppender appends an event to the transactional outbox. It is
// satisfied by *outbox.Store; kept as a narrow interface here so this
// package never imports outbox directly.
type OutboxAppender interface {
	Append(ctx context.Context, tx *sql.Tx, eventType, aggregateType string, aggregateID int64, payload any) error
}

// SQLStuckPaymentChecker finds reservations whose payment captured
// (payment_status = 'PAID') but whose reservation status never reached
// CONFIRMED, flagging each with a ReservationReconciliationNeeded outbox
// event so an operator or a retry job can finish the interrupted commit.
type SQLStuckPaymentChecker struct {
	db         *sql.DB
	outbox     OutboxAppender
	staleAfter time.Duration
	batchSize  int
}

// NewSQLStuckPaymentChecker builds a stuck-payment checker. staleAfter is
// how long a PAID reservation may sit short of CONFIRMED before it counts
// as stuck; defaults to 10 minutes.
func NewSQLStuckPaymentChecker(db *sql.DB, outbox OutboxAppender, staleAfter time.Duration) *SQLStuckPaymentChecker {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &SQLStuckPaymentChecker{db: db, outbox: outbox, staleAfter: staleAfter, batchSize: 200}
}

type reconciliationEventPayload struct {
	ReservationCode string `json:"reservationCode"`
	Reason          string `json:"reason"`
}

// CheckAndFlag implements StuckPaymentChecker.
func (c *SQLStuckPaymentChecker) CheckAndFlag(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-c.staleAfter)

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, code
		FROM reservations
		WHERE payment_status = 'PAID'
		  AND status NOT IN ('CONFIRMED', 'CANCELLED', 'COMPLETED')
		  AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, cutoff, c.batchSize)
	if err != nil {
		return 0, fmt.Errorf("reconciliation: query stuck reservations: %w", err)
	}
	defer rows.Close()

	type stuck struct {
		id   int64
		code string
	}
	var candidates []stuck
	for rows.Next() {
		var s stuck
		if err := rows.Scan(&s.id, &s.code); err != nil {
			return 0, fmt.Errorf("reconciliation: scan stuck reservation: %w", err)
		}
		candidates = append(candidates, s)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reconciliation: iterate stuck reservations: %w", err)
	}

	flagged := 0
	for _, s := range candidates {
		if err := c.flagOne(ctx, s.id, s.code); err != nil {
			continue
		}
		flagged++
	}
	return flagged, nil
}

func (c *SQLStuckPaymentChecker) flagOne(ctx context.Context, reservationID int64, code string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payload := reconciliationEventPayload{
		ReservationCode: code,
		Reason:          "payment captured but reservation did not reach CONFIRMED within the stale window",
	}
	if err := c.outbox.Append(ctx, tx, "ReservationReconciliationNeeded", "reservation", reservationID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// SQLOrphanedSupplierRequestChecker counts supplier requests left in
// PENDING past the supplier call timeout with no recorded response.
type SQLOrphanedSupplierRequestChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLOrphanedSupplierRequestChecker(db *sql.DB, timeout time.Duration) *SQLOrphanedSupplierRequestChecker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SQLOrphanedSupplierRequestChecker{db: db, timeout: timeout}
}

func (c *SQLOrphanedSupplierRequestChecker) CountOrphaned(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-c.timeout * 10) // generous multiple of the call timeout before calling it orphaned

	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM reservation_supplier_requests
		WHERE status = 'PENDING' AND created_at < $1`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("reconciliation: count orphaned supplier requests: %w", err)
	}
	return count, nil
}

// SQLPoisonOutboxChecker counts outbox events that exhausted their retry
// budget.
type SQLPoisonOutboxChecker struct {
	db          *sql.DB
	maxAttempts int
}

func NewSQLPoisonOutboxChecker(db *sql.DB, maxAttempts int) *SQLPoisonOutboxChecker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &SQLPoisonOutboxChecker{db: db, maxAttempts: maxAttempts}
}

func (c *SQLPoisonOutboxChecker) CountPoisoned(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM outbox_events
		WHERE status = 'FAILED' AND attempts >= $1`, c.maxAttempts).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("reconciliation: count poisoned outbox events: %w", err)
	}
	return count, nil
}

// SQLExpiredIdempotencyChecker counts idempotency keys past their TTL.
type SQLExpiredIdempotencyChecker struct {
	db *sql.DB
}

func NewSQLExpiredIdempotencyChecker(db *sql.DB) *SQLExpiredIdempotencyChecker {
	return &SQLExpiredIdempotencyChecker{db: db}
}

func (c *SQLExpiredIdempotencyChecker) CountExpired(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `
		SELECT count(*) FROM idempotency_keys WHERE expires_at < now()`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("reconciliation: count expired idempotency keys: %w", err)
	}
	return count, nil
}
