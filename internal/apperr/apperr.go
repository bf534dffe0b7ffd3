// Package apperr defines the typed error variants the commit protocol and
// HTTP edge share. Domain code returns these instead of opaque
// strings so the edge can render a uniform error envelope and so callers
// can branch on kind with errors.As instead of string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind names one of the documented error variants.
type Kind string

const (
	KindValidation           Kind = "ValidationError"
	KindReservationNotFound  Kind = "ReservationNotFound"
	KindInvalidTransition    Kind = "InvalidStateTransition"
	KindOptimisticLock       Kind = "OptimisticConcurrency"
	KindIdempotencyConflict  Kind = "ConflictingIdempotencyKey"
	KindPaymentFailed        Kind = "PaymentFailed"
	KindSupplierFailed       Kind = "SupplierConfirmationFailed"
	KindSupplierTimeout      Kind = "SupplierTimeout"
	KindInvalidSignature     Kind = "InvalidSignature"
	KindAvailabilityConflict Kind = "AvailabilityConflict"
	KindInternal             Kind = "Internal"
)

// PaymentFailureReason classifies why a charge did not succeed.
type PaymentFailureReason string

const (
	PaymentReasonCard       PaymentFailureReason = "card"
	PaymentReasonGateway    PaymentFailureReason = "gateway"
	PaymentReasonValidation PaymentFailureReason = "validation"
	PaymentReasonTimeout    PaymentFailureReason = "timeout"
)

// Error is the common shape for every domain error variant. Code is the
// machine-readable string the HTTP edge renders in the error envelope;
// Message is operator/client-readable prose.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any

	// Reason is set only for PaymentFailed.
	Reason PaymentFailureReason
	// Retryable is set only for SupplierConfirmationFailed.
	Retryable bool

	Err error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a ValidationError.
func Validation(field, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: map[string]any{"field": field},
	}
}

// NotFound builds a ReservationNotFound.
func NotFound(code string) *Error {
	return &Error{
		Kind:    KindReservationNotFound,
		Code:    "RESERVATION_NOT_FOUND",
		Message: fmt.Sprintf("reservation %q was not found", code),
	}
}

// InvalidTransition builds an InvalidStateTransition naming both states.
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Code:    "INVALID_STATE_TRANSITION",
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
		Details: map[string]any{"from": from, "to": to},
	}
}

// OptimisticConcurrency builds an OptimisticConcurrency error.
func OptimisticConcurrency(aggregate string, expectedVersion int) *Error {
	return &Error{
		Kind:    KindOptimisticLock,
		Code:    "OPTIMISTIC_CONCURRENCY",
		Message: fmt.Sprintf("%s was modified concurrently (expected lock_version %d)", aggregate, expectedVersion),
	}
}

// IdempotencyConflict builds a ConflictingIdempotencyKey error.
func IdempotencyConflict(scope, key string) *Error {
	return &Error{
		Kind:    KindIdempotencyConflict,
		Code:    "IDEMPOTENCY_CONFLICT",
		Message: fmt.Sprintf("idempotency key %q was already used with a different request in scope %q", key, scope),
	}
}

// PaymentFailed builds a PaymentFailed error with the given reason.
func PaymentFailed(reason PaymentFailureReason, message string) *Error {
	return &Error{
		Kind:    KindPaymentFailed,
		Code:    "PAYMENT_FAILED",
		Message: message,
		Reason:  reason,
	}
}

// SupplierConfirmationFailed builds a SupplierConfirmationFailed error.
func SupplierConfirmationFailed(retryable bool, message string) *Error {
	return &Error{
		Kind:      KindSupplierFailed,
		Code:      "SUPPLIER_ERROR",
		Message:   message,
		Retryable: retryable,
	}
}

// InvalidSignature builds an InvalidSignature error for a webhook whose
// signature does not verify against the expected secret.
func InvalidSignature(provider string) *Error {
	return &Error{
		Kind:    KindInvalidSignature,
		Code:    "INVALID_SIGNATURE",
		Message: fmt.Sprintf("%s webhook signature verification failed", provider),
	}
}

// AvailabilityConflict builds an AvailabilityConflict error for an
// overlapping booking on the same (category, supplier) pair.
func AvailabilityConflict(carCategoryID, supplierID int64) *Error {
	return &Error{
		Kind:    KindAvailabilityConflict,
		Code:    "AVAILABILITY_CONFLICT",
		Message: fmt.Sprintf("no availability for car category %d with supplier %d over the requested dates", carCategoryID, supplierID),
	}
}

// SupplierTimeout builds a SupplierTimeout error.
func SupplierTimeout(message string) *Error {
	return &Error{
		Kind:    KindSupplierTimeout,
		Code:    "SUPPLIER_TIMEOUT",
		Message: message,
	}
}

// Internal builds a last-resort Internal error, wrapping cause without
// exposing it in Message.
func Internal(correlationID string, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    "INTERNAL_ERROR",
		Message: fmt.Sprintf("internal error (correlation id %s)", correlationID),
		Err:     cause,
	}
}

// HTTPStatus maps an error Kind (and, for PaymentFailed, its Reason) to
// its HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return 400
	case KindReservationNotFound:
		return 404
	case KindInvalidTransition, KindIdempotencyConflict, KindOptimisticLock, KindAvailabilityConflict:
		return 409
	case KindInvalidSignature:
		return 400
	case KindPaymentFailed:
		switch e.Reason {
		case PaymentReasonCard, PaymentReasonValidation:
			return 402
		case PaymentReasonTimeout:
			return 503
		default:
			return 502
		}
	case KindSupplierFailed, KindSupplierTimeout:
		return 503
	default:
		return 500
	}
}

// Envelope builds the canonical error body, {error, message, code,
// details?}, and its HTTP status for any error. Any err that isn't an
// *Error (or doesn't wrap one) renders as a generic 500 Internal envelope,
// so every caller of this function, whether the main HTTP edge or a
// short-circuiting middleware, renders the same shape.
func Envelope(err error) (status int, body map[string]any) {
	var appErr *Error
	if errors.As(err, &appErr) {
		body = map[string]any{
			"error":   string(appErr.Kind),
			"message": appErr.Message,
			"code":    appErr.Code,
		}
		if len(appErr.Details) > 0 {
			body["details"] = appErr.Details
		}
		return appErr.HTTPStatus(), body
	}
	return 500, map[string]any{"error": "Internal", "message": "an internal error occurred"}
}
