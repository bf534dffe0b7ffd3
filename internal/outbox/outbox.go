// Package outbox implements the transactional outbox pattern: domain
// writes append an event row in the same transaction as the state change
// that caused it, and a separate dispatcher (see dispatcher.go) claims
// and delivers those events at-least-once. This decouples "the reservation
// was paid" from "something told the supplier/metrics/audit log about it" —
// the latter can fail and retry without threatening the former's durability.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an outbox event.
type Status string

const (
	StatusNew    Status = "NEW"
	StatusDone   Status = "DONE"
	StatusFailed Status = "FAILED"
)

// MaxAttempts is the attempt count at which an event stops being retried
// and is left in StatusFailed for operator/reconciliation attention
// (the "poison queue").
const MaxAttempts = 5

// StaleLockTimeout is how long a claimed-but-never-acked event (the
// claiming worker crashed mid-handler) waits before another worker is
// allowed to reclaim it.
const StaleLockTimeout = 5 * time.Minute

// Event is one row of the outbox.
type Event struct {
	ID            int64
	EventType     string
	AggregateType string
	AggregateID   int64
	Payload       json.RawMessage
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LockedBy      string
	LockedAt      sql.NullTime
	CreatedAt     time.Time
}

// Appender lets domain code append an event inside its own transaction,
// without depending on the rest of this package (claim/dispatch).
type Appender interface {
	Append(ctx context.Context, tx *sql.Tx, eventType, aggregateType string, aggregateID int64, payload any) error
}

// Store is the full outbox contract: append plus the claim/ack operations
// the dispatcher needs.
type Store interface {
	Appender
	// Claim atomically selects up to n due NEW events not currently held
	// by a live lock, stamps them locked_by=workerID, locked_at=now, and
	// returns them, so two dispatcher instances never process the same
	// event concurrently.
	Claim(ctx context.Context, n int, workerID string) ([]Event, error)
	// MarkDone marks an event delivered.
	MarkDone(ctx context.Context, id int64) error
	// MarkFailed records a failed delivery attempt. attempts is the new
	// (post-increment) attempt count; once it reaches MaxAttempts the
	// event is left in StatusFailed permanently, otherwise it's released
	// and rescheduled with exponential backoff.
	MarkFailed(ctx context.Context, id int64, attempts int, lastErr string) error
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates an outbox store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, tx *sql.Tx, eventType, aggregateType string, aggregateID int64, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_type, aggregate_type, aggregate_id, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, now(), now())`,
		eventType, aggregateType, aggregateID, body, StatusNew)
	return err
}

// Claim selects due, unlocked-or-stale-locked NEW events via SELECT ...
// FOR UPDATE SKIP LOCKED in a subquery, stamping the winners with this
// worker's lock in the same statement. The FOR UPDATE SKIP LOCKED row
// lock is what actually prevents two concurrent claims of the same row;
// locked_by/locked_at exist only so a worker that claimed an event and
// then crashed before acking it doesn't strand it forever — after
// StaleLockTimeout any worker may reclaim it.
func (s *PostgresStore) Claim(ctx context.Context, n int, workerID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE outbox_events
		SET locked_by = $1, locked_at = now()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = $2
			  AND next_attempt_at <= now()
			  AND (locked_by IS NULL OR locked_at < now() - $3::interval)
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, aggregate_type, aggregate_id, payload, status, attempts, next_attempt_at, locked_by, locked_at, created_at`,
		workerID, StatusNew, StaleLockTimeout.String(), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var lockedBy sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &e.AggregateType, &e.AggregateID, &e.Payload,
			&e.Status, &e.Attempts, &e.NextAttemptAt, &lockedBy, &e.LockedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.LockedBy = lockedBy.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) MarkDone(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = $1 WHERE id = $2`, StatusDone, id)
	return err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, attempts int, lastErr string) error {
	if attempts >= MaxAttempts {
		_, err := s.db.ExecContext(ctx, `
			UPDATE outbox_events
			SET status = $1, attempts = $2, last_error = $3, locked_by = NULL, locked_at = NULL
			WHERE id = $4`, StatusFailed, attempts, lastErr, id)
		return err
	}

	// Bind the backoff as a string cast to interval; a bare time.Duration
	// would reach Postgres as raw nanoseconds and be read as seconds.
	backoff := backoffFor(attempts)
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET attempts = $1, last_error = $2, next_attempt_at = now() + $3::interval, locked_by = NULL, locked_at = NULL
		WHERE id = $4`, attempts, lastErr, backoff.String(), id)
	return err
}

// backoffFor returns 2^attempts minutes, the exponential backoff schedule
// documented for outbox retries.
func backoffFor(attempts int) time.Duration {
	minutes := 1 << uint(attempts) // attempts>=1 by the time this is called
	return time.Duration(minutes) * time.Minute
}
