// Package supplier implements the supplier gateway port: the
// uniform contract every car-rental supplier integration exposes, a base
// HTTP adapter providing pooling/logging/retry for concrete adapters to
// embed, and a factory memoizing one adapter instance per supplier id.
package supplier

import (
	"context"
	"time"
)

// Offer is one bookable option returned by SearchAvailability.
type Offer struct {
	ProductID     string
	CarCategory   string
	ACRISSCode    string
	Description   string
	PublicPrice   int64 // minor units
	SupplierCost  int64 // minor units
	Currency      string
	PickupOffice  string
	DropoffOffice string
}

// SearchAvailabilityRequest bundles the query parameters.
type SearchAvailabilityRequest struct {
	PickupOfficeCode  string
	DropoffOfficeCode string
	PickupAt          time.Time
	DropoffAt         time.Time
	DriverAge         int // 0 means unspecified
}

// CreateReservationRequest is what createReservation sends upstream.
type CreateReservationRequest struct {
	ProductID         string
	PickupOfficeCode  string
	DropoffOfficeCode string
	PickupAt          time.Time
	DropoffAt         time.Time
	DriverFirstName   string
	DriverLastName    string
	DriverLicenseNo   string
	ContactEmail      string
	ContactPhone      string
	IdempotencyKey    string
}

// CreateReservationResult is the supplier's booking confirmation.
type CreateReservationResult struct {
	ConfirmationNumber string
	Status             string
	TotalPrice         int64
	Currency           string
}

// ConfirmReservationResult is the outcome of an explicit confirm step.
// Single-step suppliers never need this; their adapter's
// ConfirmReservation is a no-op that echoes back what createReservation
// already returned.
type ConfirmReservationResult struct {
	ConfirmationNumber string
	Status             string
}

// ReservationStatus is what getReservationStatus reports.
type ReservationStatus struct {
	ConfirmationNumber string
	Status             string
	PickupCompleted    bool
	DropoffCompleted   bool
}

// Gateway is the per-supplier port.
type Gateway interface {
	SearchAvailability(ctx context.Context, req SearchAvailabilityRequest) ([]Offer, error)
	CreateReservation(ctx context.Context, req CreateReservationRequest) (CreateReservationResult, error)
	ConfirmReservation(ctx context.Context, supplierCode string) (ConfirmReservationResult, error)
	GetReservationStatus(ctx context.Context, supplierCode string) (ReservationStatus, error)
	Close() error
}
