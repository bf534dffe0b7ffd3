package reservation

import (
	"math/big"
	"time"
)

// PaymentStatus mirrors statemachine.PaymentStatus values but is kept as
// its own type on the Payment row, since a payment's status vocabulary
// (PENDING/PAID/FAILED/REFUNDED/PARTIALLY_REFUNDED) is a property of the
// payment record, not the reservation.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusPaid              PaymentStatus = "PAID"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Payment is one charge attempt against a reservation; a reservation may
// carry several.
type Payment struct {
	ID              int64
	ReservationID   int64
	Provider        string // e.g. "stripe"
	ProviderTxID    string
	PaymentIntentID string
	ChargeID        string
	EventID         string
	Amount          *big.Int
	Currency        string
	Status          PaymentStatus
	CapturedAt      *time.Time
	RefundedAt      *time.Time
	AmountRefunded  *big.Int
	FeeAmount       *big.Int
	NetAmount       *big.Int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SupplierRequestStatus is the outcome of one outbound supplier call.
type SupplierRequestStatus string

const (
	SupplierRequestSuccess SupplierRequestStatus = "SUCCESS"
	SupplierRequestFailed  SupplierRequestStatus = "FAILED"
	SupplierRequestTimeout SupplierRequestStatus = "TIMEOUT"
)

// SupplierRequest is an immutable per-attempt audit row. Never
// updated once written; a retried call appends a new row with an
// incremented Attempt.
type SupplierRequest struct {
	ID              int64
	ReservationID   int64
	SupplierID      int64
	RequestKind     string // e.g. "createReservation", "confirmReservation"
	Attempt         int
	Status          SupplierRequestStatus
	HTTPCode        int
	ErrorCode       string
	ErrorMessage    string
	RequestPayload  []byte
	ResponsePayload []byte
	IdempotencyKey  string
	CreatedAt       time.Time
}
