// Package statemachine defines the legal transitions over a reservation's
// lifecycle status. It is a pure mapping with no side effects and no
// dependency on storage — the coordinator calls it before persisting any
// status change.
package statemachine

import "github.com/carorbit/reservations/internal/apperr"

// Status is a reservation lifecycle state.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusOnRequest   Status = "ON_REQUEST"
	StatusConfirmed   Status = "CONFIRMED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusNoShow      Status = "NO_SHOW"
	StatusCancelled   Status = "CANCELLED"
	StatusFailed      Status = "FAILED"
)

// transitions is the authoritative adjacency list. CANCELLED is reachable
// from any non-terminal status (externally managed, e.g. by a separate
// cancellation service), which is why it isn't listed as a destination
// here — callers that need to allow it check isTerminal instead.
var transitions = map[Status][]Status{
	StatusPending:    {StatusOnRequest, StatusConfirmed},
	StatusOnRequest:  {StatusConfirmed, StatusPending},
	StatusConfirmed:  {StatusInProgress, StatusNoShow},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
	StatusNoShow:     {},
	StatusCancelled:  {},
	StatusFailed:     {},
}

// AllowedFrom returns the set of statuses reachable in one step from s.
func AllowedFrom(s Status) []Status {
	allowed, ok := transitions[s]
	if !ok {
		return nil
	}
	out := make([]Status, len(allowed))
	copy(out, allowed)
	return out
}

// IsTerminal reports whether no further transitions are legal from s.
func IsTerminal(s Status) bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate returns an *apperr.Error if from -> to is not legal, for
// callers that want to propagate a typed domain error directly rather
// than branch on CanTransition themselves.
func Validate(from, to Status) error {
	if !CanTransition(from, to) {
		return apperr.InvalidTransition(string(from), string(to))
	}
	return nil
}

// Describe renders a from->to transition for audit logs.
func Describe(from, to Status) string {
	return string(from) + " -> " + string(to)
}

// PaymentStatus is a reservation's payment lifecycle state. It is tracked
// separately from Status: a reservation can sit in PENDING with payment
// UNPAID, or PENDING with payment PAID (supplier confirmation pending).
type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "UNPAID"
	PaymentPending           PaymentStatus = "PENDING"
	PaymentPaid              PaymentStatus = "PAID"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)
