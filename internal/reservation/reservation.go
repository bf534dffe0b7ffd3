// Package reservation holds the booking aggregate and the repository/unit
// of work contracts the commit coordinator drives.
package reservation

import (
	"math/big"
	"time"

	"github.com/carorbit/reservations/internal/apperr"
	"github.com/carorbit/reservations/internal/statemachine"
)

// DriverKind distinguishes the primary driver from additional drivers.
type Driver struct {
	ID             int64
	ReservationID  int64
	FirstName      string
	LastName       string
	DateOfBirth    time.Time
	LicenseNumber  string
	LicenseCountry string
	IsPrimary      bool
}

// ContactKind names the role a contact plays on the reservation. Every
// bookable reservation must carry a BOOKER; others (e.g. EMERGENCY) are
// additive.
type ContactKind string

const ContactKindBooker ContactKind = "BOOKER"

// Contact is a reachable point of contact attached to the reservation.
type Contact struct {
	ID            int64
	ReservationID int64
	Kind          ContactKind
	Email         string
	Phone         string
}

// PricingItemKind names a pricing line: the base rental, an extra, a tax,
// or a discount.
type PricingItemKind string

const (
	PricingItemBase     PricingItemKind = "BASE"
	PricingItemExtra    PricingItemKind = "EXTRA"
	PricingItemTax      PricingItemKind = "TAX"
	PricingItemDiscount PricingItemKind = "DISCOUNT"
)

// PricingItem is one line of the price breakdown persisted for audit and
// display.
type PricingItem struct {
	ID            int64
	ReservationID int64
	Kind          PricingItemKind
	Description   string
	UnitPrice     *big.Int
	Quantity      int64
}

// DomainEvent is a not-yet-persisted fact about the aggregate, queued by
// aggregate methods and drained into the outbox inside the same
// transaction that makes the underlying state change durable.
type DomainEvent struct {
	Type    string
	Payload any
}

// Reservation is the aggregate root.
type Reservation struct {
	ID             int64
	Code           string
	CustomerID     int64
	SupplierID     int64
	PickupOfficeID int64
	DropoffOfficeID int64
	PickupAt       time.Time
	DropoffAt      time.Time
	RentalDays     int
	CarCategoryID  int64 // 0 means "pending catalog lookup", not invalid
	ProductID      int64
	Currency       string

	PublicPriceTotal  *big.Int
	SupplierCostTotal *big.Int
	DiscountTotal     *big.Int
	TaxesTotal        *big.Int
	FeesTotal         *big.Int
	CommissionTotal   *big.Int

	Status        statemachine.Status
	PaymentStatus statemachine.PaymentStatus

	// Historical snapshots, captured at booking time so later catalog
	// changes never alter what a past reservation displays.
	SupplierNameSnapshot     string
	PickupOfficeSnapshot     string
	DropoffOfficeSnapshot    string
	CarCategorySnapshot      string
	MarketingSource          string

	SupplierConfirmationNumber string
	SupplierConfirmedAt        *time.Time

	LockVersion int
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Drivers      []Driver
	Contacts     []Contact
	PricingItems []PricingItem

	uncommittedEvents []DomainEvent
}

// New constructs a PENDING/UNPAID reservation with its primary driver and
// BOOKER contact, and queues a ReservationCreated event.
func New(code string, customerID, supplierID, pickupOfficeID, dropoffOfficeID int64, pickupAt, dropoffAt time.Time, carCategoryID, productID int64, currency string, primaryDriver Driver, bookerContact Contact) (*Reservation, error) {
	primaryDriver.IsPrimary = true
	bookerContact.Kind = ContactKindBooker

	r := &Reservation{
		Code:            code,
		CustomerID:      customerID,
		SupplierID:      supplierID,
		PickupOfficeID:  pickupOfficeID,
		DropoffOfficeID: dropoffOfficeID,
		PickupAt:        pickupAt,
		DropoffAt:       dropoffAt,
		CarCategoryID:   carCategoryID,
		ProductID:       productID,
		Currency:        currency,
		Status:          statemachine.StatusPending,
		PaymentStatus:   statemachine.PaymentUnpaid,
		Drivers:         []Driver{primaryDriver},
		Contacts:        []Contact{bookerContact},
	}
	r.recordEvent("ReservationCreated", reservationCreatedPayload{Code: code, SupplierID: supplierID})
	return r, nil
}

// MarkPaid transitions the payment status to PAID. It does not touch the
// reservation's lifecycle Status: payment and booking status are
// orthogonal state machines.
func (r *Reservation) MarkPaid(capturedAt time.Time) {
	r.PaymentStatus = statemachine.PaymentPaid
	_ = capturedAt // recorded on the Payment row, not the reservation itself
}

// ConfirmWithSupplier transitions status PENDING -> CONFIRMED and records
// the supplier's confirmation number. Returns
// apperr.InvalidTransition if the current status cannot legally move to
// CONFIRMED.
func (r *Reservation) ConfirmWithSupplier(confirmationNumber string, confirmedAt time.Time) error {
	if err := statemachine.Validate(r.Status, statemachine.StatusConfirmed); err != nil {
		return err
	}
	r.Status = statemachine.StatusConfirmed
	r.SupplierConfirmationNumber = confirmationNumber
	r.SupplierConfirmedAt = &confirmedAt
	r.recordEvent("ReservationConfirmed", reservationConfirmedPayload{
		Code:               r.Code,
		ConfirmationNumber: confirmationNumber,
		ConfirmedAt:        confirmedAt,
	})
	return nil
}

// Transition applies any other legal lifecycle move (e.g. CONFIRMED ->
// IN_PROGRESS, IN_PROGRESS -> COMPLETED), validating against the state
// machine first.
func (r *Reservation) Transition(to statemachine.Status) error {
	if err := statemachine.Validate(r.Status, to); err != nil {
		return err
	}
	r.Status = to
	return nil
}

func (r *Reservation) recordEvent(eventType string, payload any) {
	r.uncommittedEvents = append(r.uncommittedEvents, DomainEvent{Type: eventType, Payload: payload})
}

// DrainEvents returns and clears the queued domain events, for the
// coordinator to append to the outbox inside its commit transaction.
func (r *Reservation) DrainEvents() []DomainEvent {
	events := r.uncommittedEvents
	r.uncommittedEvents = nil
	return events
}

// HasPrimaryDriver reports whether any driver is marked primary.
func (r *Reservation) HasPrimaryDriver() bool {
	for _, d := range r.Drivers {
		if d.IsPrimary {
			return true
		}
	}
	return false
}

// HasBookerContact reports whether a BOOKER contact is present.
func (r *Reservation) HasBookerContact() bool {
	for _, c := range r.Contacts {
		if c.Kind == ContactKindBooker {
			return true
		}
	}
	return false
}

// ValidateBookable returns apperr.Validation if the aggregate is missing a
// primary driver or BOOKER contact. Both are required before a
// reservation may be persisted in a bookable state.
func (r *Reservation) ValidateBookable() error {
	if !r.HasPrimaryDriver() {
		return apperr.Validation("drivers", "reservation must have at least one primary driver")
	}
	if !r.HasBookerContact() {
		return apperr.Validation("contacts", "reservation must have at least one BOOKER contact")
	}
	return nil
}

type reservationCreatedPayload struct {
	Code       string `json:"code"`
	SupplierID int64  `json:"supplier_id"`
}

type reservationConfirmedPayload struct {
	Code               string    `json:"code"`
	ConfirmationNumber string    `json:"confirmation_number"`
	ConfirmedAt        time.Time `json:"confirmed_at"`
}
