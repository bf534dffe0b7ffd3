package reconciliation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carorbit/reservations/internal/testutil"
)

type fakeOutboxAppender struct {
	appended []string
}

func (f *fakeOutboxAppender) Append(_ context.Context, _ *sql.Tx, eventType, _ string, _ int64, _ any) error {
	f.appended = append(f.appended, eventType)
	return nil
}

func insertTestReservation(t *testing.T, db *sql.DB, code, status, paymentStatus string, updatedAt time.Time) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO reservations (code, status, payment_status, currency, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, 'USD', '100.00', now(), $4)
		RETURNING id`, code, status, paymentStatus, updatedAt).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestSQLStuckPaymentChecker_FlagsStaleCapturedPayments(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	stale := time.Now().Add(-1 * time.Hour)
	insertTestReservation(t, db, "RES-STUCK-1", "PAYMENT_CONFIRMED", "PAID", stale)
	insertTestReservation(t, db, "RES-FRESH-1", "PAYMENT_CONFIRMED", "PAID", time.Now())
	insertTestReservation(t, db, "RES-DONE-1", "CONFIRMED", "PAID", stale)

	outbox := &fakeOutboxAppender{}
	checker := NewSQLStuckPaymentChecker(db, outbox, 10*time.Minute)

	flagged, err := checker.CheckAndFlag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)
	assert.Equal(t, []string{"ReservationReconciliationNeeded"}, outbox.appended)
}

func TestSQLPoisonOutboxChecker_CountsExhaustedEvents(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	_, err := db.Exec(`
		INSERT INTO outbox_events (event_type, aggregate_type, aggregate_id, payload, status, attempts, created_at)
		VALUES
			('ReservationConfirmed', 'reservation', 1, '{}', 'FAILED', 5, now()),
			('ReservationConfirmed', 'reservation', 2, '{}', 'FAILED', 2, now()),
			('ReservationConfirmed', 'reservation', 3, '{}', 'PENDING', 0, now())`)
	require.NoError(t, err)

	checker := NewSQLPoisonOutboxChecker(db, 5)
	count, err := checker.CountPoisoned(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLExpiredIdempotencyChecker_CountsPastTTL(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	_, err := db.Exec(`
		INSERT INTO idempotency_keys (scope, key, request_hash, response_status, response_body, expires_at, created_at)
		VALUES
			('create_reservation', 'k1', 'h1', 201, '{}', now() - interval '1 hour', now() - interval '8 days'),
			('create_reservation', 'k2', 'h2', 201, '{}', now() + interval '1 day', now())`)
	require.NoError(t, err)

	checker := NewSQLExpiredIdempotencyChecker(db)
	count, err := checker.CountExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
