// Package coordinator implements the reservation commit protocol: the
// T1/E1/T2/E2/T3 sequence that turns a validated booking
// request into a durable reservation, a captured payment, and a
// supplier confirmation, while keeping every external call's outcome
// (including "unknown") reflected in durable state rather than lost.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/carorbit/reservations/internal/apperr"
	"github.com/carorbit/reservations/internal/codegen"
	"github.com/carorbit/reservations/internal/payment"
	"github.com/carorbit/reservations/internal/pricing"
	"github.com/carorbit/reservations/internal/reservation"
	"github.com/carorbit/reservations/internal/statemachine"
	"github.com/carorbit/reservations/internal/supplier"
	"github.com/carorbit/reservations/internal/syncutil"
	"github.com/carorbit/reservations/internal/traces"
)

// Default per-call deadlines for the two external legs.
const (
	PaymentCallTimeout  = 20 * time.Second
	SupplierCallTimeout = 30 * time.Second
)

// CreateReservationRequest is a validated booking request.
// Validation of shape (email format, currency code, etc.) happens at the
// HTTP edge; by the time it reaches the coordinator every field is
// trusted to be well-formed, only business rules remain to check.
type CreateReservationRequest struct {
	CustomerID      int64
	SupplierID      int64
	PickupOfficeID  int64
	DropoffOfficeID int64
	PickupAt        time.Time
	DropoffAt       time.Time

	VehicleID     int64 // maps to Reservation.ProductID
	CarCategoryID int64 // 0 means "pending catalog lookup"
	ACRISSCode    string

	Amount       *big.Int // price, already parsed to minor units
	CurrencyCode string

	PaymentMethodID string

	DriverFirstName      string
	DriverLastName       string
	DriverLicenseNo      string
	DriverLicenseCountry string
	DriverDateOfBirth    time.Time

	ContactEmail string
	ContactPhone string

	// MarketingSource is an optional attribution snapshot; empty is
	// valid and means "unknown origin".
	MarketingSource string
}

// Result is what the coordinator returns on the happy path and on a
// supplier-confirmation failure (the reservation still exists and has a
// code even when CONFIRMED never happened).
type Result struct {
	ReservationCode      string
	SupplierConfirmation string
	Status               statemachine.Status
	PaymentStatus        statemachine.PaymentStatus
}

// Coordinator wires together the unit-of-work factory, payment gateway,
// and supplier adapter factory into the commit protocol.
type Coordinator struct {
	reservations *reservation.Factory
	payments     payment.Gateway
	suppliers    *supplier.Factory
	logger       *slog.Logger

	// slotLocks serializes the availability-check-then-reserve critical
	// section per inventory slot, so two concurrent requests for the same
	// car category/office/window can't both pass CheckAvailability before
	// either has saved (T1's check-then-act is otherwise a race).
	slotLocks syncutil.ShardedMutex
}

// New builds a Coordinator.
func New(reservations *reservation.Factory, payments payment.Gateway, suppliers *supplier.Factory, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{reservations: reservations, payments: payments, suppliers: suppliers, logger: logger}
}

// CreateReservation runs the full T1/E1/T2/E2/T3 protocol.
func (c *Coordinator) CreateReservation(ctx context.Context, req CreateReservationRequest) (*Result, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, apperr.Validation("price", "price must be a positive amount")
	}

	res, sup, pickupOffice, dropoffOffice, err := c.commitT1(ctx, req)
	if err != nil {
		return nil, err
	}

	chargeResult, chargeErr := c.charge(ctx, res, req)
	if chargeErr != nil {
		c.recordUnknownPaymentOutcome(ctx, res, chargeErr)
		return nil, apperr.SupplierTimeout(fmt.Sprintf("payment outcome unknown for reservation %s: %v", res.Code, chargeErr))
	}
	if !chargeResult.Success {
		// T1 is already durable; nothing to roll back. The reservation
		// stays PENDING/UNPAID for a later expiry sweep to collect.
		return nil, apperr.PaymentFailed(chargeResult.ErrorReason, chargeResult.ErrorMessage)
	}

	res, err = c.commitT2(ctx, res, chargeResult)
	if err != nil {
		return nil, err
	}

	gateway, gwErr := c.suppliers.Get(supplier.Config{
		Code:    sup.Code,
		BaseURL: sup.BaseURL,
		Adapter: sup.Adapter,
	})
	var createResult supplier.CreateReservationResult
	var createErr error
	if gwErr != nil {
		createErr = gwErr
	} else {
		createResult, createErr = c.createSupplierReservation(ctx, gateway, pickupOffice, dropoffOffice, res, req)
	}

	return c.commitT3(ctx, res, sup, createResult, createErr)
}

// commitT1 opens a unit of work, resolves the supplier and offices,
// checks availability, generates a unique code, constructs the aggregate
// in PENDING/UNPAID, saves it, and commits, all in one local
// transaction (T1).
func (c *Coordinator) commitT1(ctx context.Context, req CreateReservationRequest) (*reservation.Reservation, *reservation.Supplier, *reservation.Office, *reservation.Office, error) {
	slotKey := fmt.Sprintf("%d|%d|%d|%d", req.SupplierID, req.CarCategoryID, req.PickupAt.Unix(), req.DropoffAt.Unix())
	unlock := c.slotLocks.Lock(slotKey)
	defer unlock()

	uow, err := c.reservations.Begin(ctx)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("coordinator: begin T1: %w", err)
	}
	defer func() { _ = uow.Rollback() }()

	sup, err := uow.Catalog.GetSupplier(ctx, req.SupplierID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	pickupOffice, err := uow.Catalog.GetOffice(ctx, req.PickupOfficeID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dropoffOffice, err := uow.Catalog.GetOffice(ctx, req.DropoffOfficeID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	// Availability is enforced on the write path, not just the
	// read-side search.
	available, err := uow.Reservations.CheckAvailability(ctx, req.CarCategoryID, req.SupplierID, req.PickupAt, req.DropoffAt)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("coordinator: check availability: %w", err)
	}
	if !available {
		return nil, nil, nil, nil, apperr.AvailabilityConflict(req.CarCategoryID, req.SupplierID)
	}

	code, err := codegen.Generate(ctx, uow.Reservations, time.Now())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("coordinator: generate reservation code: %w", err)
	}

	primaryDriver := reservation.Driver{
		FirstName:      req.DriverFirstName,
		LastName:       req.DriverLastName,
		DateOfBirth:    req.DriverDateOfBirth,
		LicenseNumber:  req.DriverLicenseNo,
		LicenseCountry: req.DriverLicenseCountry,
	}
	bookerContact := reservation.Contact{
		Email: req.ContactEmail,
		Phone: req.ContactPhone,
	}

	res, err := reservation.New(code, req.CustomerID, req.SupplierID, req.PickupOfficeID, req.DropoffOfficeID,
		req.PickupAt, req.DropoffAt, req.CarCategoryID, req.VehicleID, req.CurrencyCode, primaryDriver, bookerContact)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	res.RentalDays = pricing.RentalDays(req.PickupAt, req.DropoffAt)
	res.PublicPriceTotal = new(big.Int).Set(req.Amount)
	res.SupplierNameSnapshot = sup.Name
	res.PickupOfficeSnapshot = pickupOffice.Name
	res.DropoffOfficeSnapshot = dropoffOffice.Name
	res.MarketingSource = req.MarketingSource
	if req.CarCategoryID == 0 {
		// No catalog record to snapshot yet; keep the ACRISS code.
		res.CarCategorySnapshot = req.ACRISSCode
	}
	res.PricingItems = []reservation.PricingItem{
		{Kind: reservation.PricingItemBase, Description: "base rental", UnitPrice: new(big.Int).Set(req.Amount), Quantity: 1},
	}

	if err := res.ValidateBookable(); err != nil {
		return nil, nil, nil, nil, err
	}

	if err := uow.Reservations.Save(ctx, res); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("coordinator: save reservation: %w", err)
	}
	for _, ev := range res.DrainEvents() {
		if err := uow.Outbox.Append(ctx, nil, ev.Type, "reservation", res.ID, ev.Payload); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("coordinator: append %s event: %w", ev.Type, err)
		}
	}

	if err := uow.Commit(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("coordinator: commit T1: %w", err)
	}
	return res, sup, pickupOffice, dropoffOffice, nil
}

// charge calls the payment gateway (external leg E1) under a bounded
// deadline.
func (c *Coordinator) charge(ctx context.Context, res *reservation.Reservation, req CreateReservationRequest) (payment.Result, error) {
	ctx, span := traces.StartSpan(ctx, "coordinator.charge", traces.ReservationCode(res.Code), traces.Amount(req.Amount.String()))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, PaymentCallTimeout)
	defer cancel()

	amount := req.Amount.Int64()
	metadata := map[string]string{"reservation_code": res.Code}
	description := fmt.Sprintf("reservation %s", res.Code)
	result, err := c.payments.Charge(ctx, amount, req.CurrencyCode, req.PaymentMethodID, description, metadata)
	if err == nil && result.PaymentIntentID != "" {
		span.SetAttributes(traces.PaymentIntentID(result.PaymentIntentID))
	}
	return result, err
}

// commitT2 records the successful charge and marks the reservation paid,
// in its own local transaction.
func (c *Coordinator) commitT2(ctx context.Context, res *reservation.Reservation, chargeResult payment.Result) (*reservation.Reservation, error) {
	uow, err := c.reservations.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: begin T2: %w", err)
	}
	defer func() { _ = uow.Rollback() }()

	now := time.Now()
	pay := &reservation.Payment{
		ReservationID:   res.ID,
		Provider:        "stripe",
		PaymentIntentID: chargeResult.PaymentIntentID,
		ChargeID:        chargeResult.ChargeID,
		Amount:          new(big.Int).Set(res.PublicPriceTotal),
		Currency:        chargeResult.Currency,
		Status:          reservation.PaymentStatusPaid,
		CapturedAt:      &now,
	}
	if err := uow.Payments.Save(ctx, pay); err != nil {
		return nil, fmt.Errorf("coordinator: save payment: %w", err)
	}

	res.MarkPaid(now)
	if err := updateWithRetryOnce(ctx, uow, res); err != nil {
		return nil, fmt.Errorf("coordinator: update reservation in T2: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("coordinator: commit T2: %w", err)
	}
	return res, nil
}

// createSupplierReservation calls the supplier gateway (external leg E2)
// under a bounded deadline.
func (c *Coordinator) createSupplierReservation(ctx context.Context, gateway supplier.Gateway, pickupOffice, dropoffOffice *reservation.Office, res *reservation.Reservation, req CreateReservationRequest) (supplier.CreateReservationResult, error) {
	ctx, span := traces.StartSpan(ctx, "coordinator.createSupplierReservation",
		traces.ReservationCode(res.Code), traces.SupplierID(req.SupplierID), traces.IdempotencyKey(res.Code))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, SupplierCallTimeout)
	defer cancel()

	return gateway.CreateReservation(ctx, supplier.CreateReservationRequest{
		ProductID:         fmt.Sprintf("%d", req.VehicleID),
		PickupOfficeCode:  pickupOffice.Code,
		DropoffOfficeCode: dropoffOffice.Code,
		PickupAt:          req.PickupAt,
		DropoffAt:         req.DropoffAt,
		DriverFirstName:   req.DriverFirstName,
		DriverLastName:    req.DriverLastName,
		DriverLicenseNo:   req.DriverLicenseNo,
		ContactEmail:      req.ContactEmail,
		ContactPhone:      req.ContactPhone,
		// The internal reservation code doubles as the supplier-facing
		// idempotency key, so a reconciliation replay of this call is
		// deduplicated on the supplier side.
		IdempotencyKey: res.Code,
	})
}

// commitT3 unconditionally records the supplier-request audit row, then
// either confirms the reservation or records the failure, in one local
// transaction.
func (c *Coordinator) commitT3(ctx context.Context, res *reservation.Reservation, sup *reservation.Supplier, createResult supplier.CreateReservationResult, createErr error) (*Result, error) {
	uow, err := c.reservations.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: begin T3: %w", err)
	}
	defer func() { _ = uow.Rollback() }()

	audit := &reservation.SupplierRequest{
		ReservationID:  res.ID,
		SupplierID:     sup.ID,
		RequestKind:    "createReservation",
		Attempt:        1,
		IdempotencyKey: res.Code,
	}
	if createErr != nil {
		audit.Status = reservation.SupplierRequestFailed
		audit.ErrorMessage = createErr.Error()
	} else {
		audit.Status = reservation.SupplierRequestSuccess
		audit.HTTPCode = 200
	}
	if err := uow.SupplierRequests.Append(ctx, audit); err != nil {
		return nil, fmt.Errorf("coordinator: append supplier request audit: %w", err)
	}

	if createErr == nil {
		if err := res.ConfirmWithSupplier(createResult.ConfirmationNumber, time.Now()); err != nil {
			return nil, err
		}
		if err := updateWithRetryOnce(ctx, uow, res); err != nil {
			return nil, fmt.Errorf("coordinator: update reservation on confirm: %w", err)
		}
		for _, ev := range res.DrainEvents() {
			if err := uow.Outbox.Append(ctx, nil, ev.Type, "reservation", res.ID, ev.Payload); err != nil {
				return nil, fmt.Errorf("coordinator: append %s event: %w", ev.Type, err)
			}
		}
		if err := uow.Outbox.Append(ctx, nil, "PaymentCompleted", "reservation", res.ID, paymentCompletedPayload{Code: res.Code}); err != nil {
			return nil, fmt.Errorf("coordinator: append PaymentCompleted event: %w", err)
		}
		if err := uow.Commit(); err != nil {
			return nil, fmt.Errorf("coordinator: commit T3: %w", err)
		}
		return &Result{
			ReservationCode:      res.Code,
			SupplierConfirmation: res.SupplierConfirmationNumber,
			Status:               res.Status,
			PaymentStatus:        res.PaymentStatus,
		}, nil
	}

	// Supplier failed after payment captured: the charge did settle, so
	// PaymentCompleted is still owed to downstream consumers, and the
	// refund/cancellation service needs to know.
	if err := uow.Outbox.Append(ctx, nil, "PaymentCompleted", "reservation", res.ID, paymentCompletedPayload{Code: res.Code}); err != nil {
		return nil, fmt.Errorf("coordinator: append PaymentCompleted event: %w", err)
	}
	if err := uow.Outbox.Append(ctx, nil, "PaymentRefundRequested", "reservation", res.ID, paymentRefundRequestedPayload{
		Code:   res.Code,
		Reason: createErr.Error(),
	}); err != nil {
		return nil, fmt.Errorf("coordinator: append PaymentRefundRequested event: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("coordinator: commit T3 (supplier failure): %w", err)
	}

	retryable := !errors.Is(createErr, context.DeadlineExceeded)
	return nil, apperr.SupplierConfirmationFailed(retryable, fmt.Sprintf("supplier did not confirm reservation %s: %v", res.Code, createErr))
}

// recordUnknownPaymentOutcome persists the fact that E1's outcome is
// unknown (a transport error, not a definitive decline), so an offline
// job can later reconcile the charge against the provider's ledger
// instead of the charge being silently lost.
func (c *Coordinator) recordUnknownPaymentOutcome(ctx context.Context, res *reservation.Reservation, chargeErr error) {
	uow, err := c.reservations.Begin(ctx)
	if err != nil {
		c.logger.Error("coordinator: failed to open unit of work for unknown payment outcome", "reservation_code", res.Code, "error", err)
		return
	}
	defer func() { _ = uow.Rollback() }()

	payload := map[string]string{"code": res.Code, "error": chargeErr.Error()}
	if err := uow.Outbox.Append(ctx, nil, "PaymentOutcomeUnknown", "reservation", res.ID, payload); err != nil {
		c.logger.Error("coordinator: failed to append PaymentOutcomeUnknown event", "reservation_code", res.Code, "error", err)
		return
	}
	if err := uow.Commit(); err != nil {
		c.logger.Error("coordinator: failed to commit PaymentOutcomeUnknown event", "reservation_code", res.Code, "error", err)
	}
}

// updateWithRetryOnce applies Update, and on an optimistic-lock miss
// re-fetches the row's current lock_version and retries exactly once.
// Any other error, or a second failure, is returned as-is.
func updateWithRetryOnce(ctx context.Context, uow *reservation.UnitOfWork, res *reservation.Reservation) error {
	err := uow.Reservations.Update(ctx, res)
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindOptimisticLock {
		return err
	}

	fresh, ferr := uow.Reservations.GetByCode(ctx, res.Code)
	if ferr != nil {
		return err
	}
	res.LockVersion = fresh.LockVersion
	return uow.Reservations.Update(ctx, res)
}

type paymentCompletedPayload struct {
	Code string `json:"code"`
}

type paymentRefundRequestedPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
