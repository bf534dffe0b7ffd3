// Package payment implements the payment gateway port: a
// charge/verify-webhook capability set any provider adapter can satisfy,
// plus the one concrete adapter (Stripe) the coordinator drives.
package payment

import (
	"context"

	"github.com/carorbit/reservations/internal/apperr"
)

// Result is what Charge returns. The port never returns an error for a
// declined card or validation failure — those come back as
// Success=false with an operator-readable ErrorMessage. A returned error
// means the outcome is unknown (transport failure, timeout): the
// coordinator treats that as "unknown outcome", not as a decline.
type Result struct {
	Success         bool
	PaymentIntentID string
	ChargeID        string
	Amount          int64
	Currency        string
	Status          string
	Method          string
	ErrorMessage    string
	ErrorReason     apperr.PaymentFailureReason
}

// Event is a verified webhook notification.
type Event struct {
	ID     string
	Type   string
	RawPayload []byte
}

// Gateway is the port the coordinator depends on. amount is in the
// currency's smallest unit (cents), matching internal/money.
type Gateway interface {
	// Charge attempts to create and immediately confirm a payment.
	Charge(ctx context.Context, amount int64, currency, paymentMethodID, description string, metadata map[string]string) (Result, error)
	// VerifyWebhookSignature validates payload against signature using
	// secret and returns the decoded event, or apperr with
	// apperr.KindValidation ("InvalidSignature") on any mismatch.
	VerifyWebhookSignature(payload []byte, signature, secret string) (Event, error)
}
