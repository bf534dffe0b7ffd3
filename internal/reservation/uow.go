package reservation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/carorbit/reservations/internal/outbox"
	"github.com/carorbit/reservations/internal/pagination"
)

// ReservationRepo is the reservation-table repository contract.
type ReservationRepo interface {
	GetByID(ctx context.Context, id int64) (*Reservation, error)
	GetByCode(ctx context.Context, code string) (*Reservation, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Save(ctx context.Context, r *Reservation) error
	// Update bumps lock_version. If the row's current lock_version
	// doesn't match r.LockVersion, zero rows are affected and
	// apperr.OptimisticConcurrency is returned.
	Update(ctx context.Context, r *Reservation) error
	// ListByCustomer paginates a customer's reservations, newest first. An
	// empty statusFilter returns every status; otherwise only rows whose
	// status matches are counted and returned, so Page.Total reflects the
	// filtered set rather than the customer's full history.
	ListByCustomer(ctx context.Context, customerID int64, statusFilter string, params pagination.Params) (pagination.Page[Reservation], error)
	// CheckAvailability reports true iff no PENDING/ON_REQUEST/CONFIRMED
	// reservation for the same (category, supplier) pair overlaps the
	// proposed [pickup, dropoff) interval.
	CheckAvailability(ctx context.Context, carCategoryID, supplierID int64, pickup, dropoff time.Time) (bool, error)
}

// PaymentRepo is the payment-table repository contract.
type PaymentRepo interface {
	GetByID(ctx context.Context, id int64) (*Payment, error)
	GetByReservationID(ctx context.Context, reservationID int64) ([]Payment, error)
	GetByProviderIntent(ctx context.Context, provider, intentID string) (*Payment, error)
	Save(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
}

// SupplierRequestRepo is the audit log contract: append-only
// writes plus a read path for the supplier-request audit query.
type SupplierRequestRepo interface {
	Append(ctx context.Context, row *SupplierRequest) error
	ListByReservationID(ctx context.Context, reservationID int64) ([]SupplierRequest, error)
}

// UnitOfWork scopes one database transaction with typed repository
// handles: the coordinator holds exactly one of these per booking and
// must end it with Commit or Rollback. Nested scopes are not supported.
type UnitOfWork struct {
	tx *sql.Tx

	Reservations     ReservationRepo
	Payments         PaymentRepo
	SupplierRequests SupplierRequestRepo
	Catalog          CatalogRepo
	Outbox           outbox.Appender

	done bool
}

// Tx exposes the underlying transaction for repositories and callers
// (e.g. outbox.Appender implementations) that need direct SQL access
// inside the same scope.
func (u *UnitOfWork) Tx() *sql.Tx { return u.tx }

// Commit ends the unit of work successfully. Calling Commit or Rollback
// more than once is a no-op past the first call, mirroring database/sql's
// own idempotent-Rollback-after-Commit contract.
func (u *UnitOfWork) Commit() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Commit()
}

// Rollback aborts the unit of work. Safe to call after a successful
// Commit (no-op) so callers can unconditionally `defer uow.Rollback()`.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	err := u.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// Factory opens a UnitOfWork backed by a shared *sql.DB connection pool.
// Same shape as idempotency.PostgresStore/outbox.PostgresStore — a
// *sql.DB-wrapping struct plus BeginTx — scoped to a whole multi-repo
// unit instead of a single statement.
type Factory struct {
	db *sql.DB
}

// NewFactory creates a UnitOfWork factory over db.
func NewFactory(db *sql.DB) *Factory {
	return &Factory{db: db}
}

// Begin opens a new transaction and wires the concrete Postgres
// repositories around it.
func (f *Factory) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reservation: begin unit of work: %w", err)
	}
	return &UnitOfWork{
		tx:               tx,
		Reservations:     &postgresReservationRepo{tx: tx},
		Payments:         &postgresPaymentRepo{tx: tx},
		SupplierRequests: &postgresSupplierRequestRepo{tx: tx},
		Catalog:          &postgresCatalogRepo{tx: tx},
		Outbox:           &postgresOutboxAppender{tx: tx},
	}, nil
}
