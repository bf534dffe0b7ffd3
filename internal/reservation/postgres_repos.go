package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"github.com/carorbit/reservations/internal/apperr"
	"github.com/carorbit/reservations/internal/outbox"
	"github.com/carorbit/reservations/internal/pagination"
	"github.com/carorbit/reservations/internal/statemachine"
)

// postgresReservationRepo implements ReservationRepo against a single
// transaction, following the same tx-scoped-struct shape as
// idempotency.PostgresStore and outbox.PostgresStore.
type postgresReservationRepo struct {
	tx *sql.Tx
}

var _ ReservationRepo = (*postgresReservationRepo)(nil)

func (r *postgresReservationRepo) GetByID(ctx context.Context, id int64) (*Reservation, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *postgresReservationRepo) GetByCode(ctx context.Context, code string) (*Reservation, error) {
	return r.get(ctx, "code = $1", code)
}

func (r *postgresReservationRepo) get(ctx context.Context, predicate string, arg any) (*Reservation, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT id, code, customer_id, supplier_id, pickup_office_id, dropoff_office_id,
		       pickup_at, dropoff_at, rental_days, car_category_id, product_id, currency,
		       public_price_total, supplier_cost_total, discount_total, taxes_total,
		       fees_total, commission_total, status, payment_status,
		       supplier_name_snapshot, pickup_office_snapshot, dropoff_office_snapshot,
		       car_category_snapshot, marketing_source, supplier_confirmation_number,
		       supplier_confirmed_at, lock_version, created_at, updated_at
		FROM reservations WHERE `+predicate, arg)

	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(toCodeString(arg))
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadChildren(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func toCodeString(arg any) string {
	if s, ok := arg.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", arg)
}

func scanReservation(row *sql.Row) (*Reservation, error) {
	var res Reservation
	var publicPrice, supplierCost, discount, taxes, fees, commission string
	var supplierConfirmedAt sql.NullTime
	err := row.Scan(
		&res.ID, &res.Code, &res.CustomerID, &res.SupplierID, &res.PickupOfficeID, &res.DropoffOfficeID,
		&res.PickupAt, &res.DropoffAt, &res.RentalDays, &res.CarCategoryID, &res.ProductID, &res.Currency,
		&publicPrice, &supplierCost, &discount, &taxes,
		&fees, &commission, &res.Status, &res.PaymentStatus,
		&res.SupplierNameSnapshot, &res.PickupOfficeSnapshot, &res.DropoffOfficeSnapshot,
		&res.CarCategorySnapshot, &res.MarketingSource, &res.SupplierConfirmationNumber,
		&supplierConfirmedAt, &res.LockVersion, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.PublicPriceTotal, _ = new(big.Int).SetString(publicPrice, 10)
	res.SupplierCostTotal, _ = new(big.Int).SetString(supplierCost, 10)
	res.DiscountTotal, _ = new(big.Int).SetString(discount, 10)
	res.TaxesTotal, _ = new(big.Int).SetString(taxes, 10)
	res.FeesTotal, _ = new(big.Int).SetString(fees, 10)
	res.CommissionTotal, _ = new(big.Int).SetString(commission, 10)
	if supplierConfirmedAt.Valid {
		res.SupplierConfirmedAt = &supplierConfirmedAt.Time
	}
	return &res, nil
}

func (r *postgresReservationRepo) loadChildren(ctx context.Context, res *Reservation) error {
	driverRows, err := r.tx.QueryContext(ctx, `
		SELECT id, reservation_id, first_name, last_name, date_of_birth,
		       license_number, license_country, is_primary
		FROM reservation_drivers WHERE reservation_id = $1 ORDER BY id`, res.ID)
	if err != nil {
		return err
	}
	for driverRows.Next() {
		var d Driver
		if err := driverRows.Scan(&d.ID, &d.ReservationID, &d.FirstName, &d.LastName,
			&d.DateOfBirth, &d.LicenseNumber, &d.LicenseCountry, &d.IsPrimary); err != nil {
			driverRows.Close()
			return err
		}
		res.Drivers = append(res.Drivers, d)
	}
	if err := driverRows.Err(); err != nil {
		return err
	}
	driverRows.Close()

	contactRows, err := r.tx.QueryContext(ctx, `
		SELECT id, reservation_id, kind, email, phone
		FROM reservation_contacts WHERE reservation_id = $1 ORDER BY id`, res.ID)
	if err != nil {
		return err
	}
	for contactRows.Next() {
		var c Contact
		if err := contactRows.Scan(&c.ID, &c.ReservationID, &c.Kind, &c.Email, &c.Phone); err != nil {
			contactRows.Close()
			return err
		}
		res.Contacts = append(res.Contacts, c)
	}
	if err := contactRows.Err(); err != nil {
		return err
	}
	contactRows.Close()

	priceRows, err := r.tx.QueryContext(ctx, `
		SELECT id, reservation_id, kind, description, unit_price, quantity
		FROM reservation_pricing_items WHERE reservation_id = $1 ORDER BY id`, res.ID)
	if err != nil {
		return err
	}
	defer priceRows.Close()
	for priceRows.Next() {
		var p PricingItem
		var unitPrice string
		if err := priceRows.Scan(&p.ID, &p.ReservationID, &p.Kind, &p.Description, &unitPrice, &p.Quantity); err != nil {
			return err
		}
		p.UnitPrice, _ = new(big.Int).SetString(unitPrice, 10)
		res.PricingItems = append(res.PricingItems, p)
	}
	return priceRows.Err()
}

func (r *postgresReservationRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM reservations WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (r *postgresReservationRepo) Save(ctx context.Context, res *Reservation) error {
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO reservations (
			code, customer_id, supplier_id, pickup_office_id, dropoff_office_id,
			pickup_at, dropoff_at, rental_days, car_category_id, product_id, currency,
			public_price_total, supplier_cost_total, discount_total, taxes_total,
			fees_total, commission_total, status, payment_status,
			supplier_name_snapshot, pickup_office_snapshot, dropoff_office_snapshot,
			car_category_snapshot, marketing_source, supplier_confirmation_number,
			supplier_confirmed_at, lock_version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, 0, now(), now()
		) RETURNING id, created_at, updated_at`,
		res.Code, res.CustomerID, res.SupplierID, res.PickupOfficeID, res.DropoffOfficeID,
		res.PickupAt, res.DropoffAt, res.RentalDays, res.CarCategoryID, res.ProductID, res.Currency,
		bigString(res.PublicPriceTotal), bigString(res.SupplierCostTotal), bigString(res.DiscountTotal),
		bigString(res.TaxesTotal), bigString(res.FeesTotal), bigString(res.CommissionTotal),
		res.Status, res.PaymentStatus,
		res.SupplierNameSnapshot, res.PickupOfficeSnapshot, res.DropoffOfficeSnapshot,
		res.CarCategorySnapshot, res.MarketingSource, res.SupplierConfirmationNumber,
		nullableTime(res.SupplierConfirmedAt),
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return err
	}
	res.LockVersion = 0

	for i := range res.Drivers {
		d := &res.Drivers[i]
		d.ReservationID = res.ID
		if err := r.tx.QueryRowContext(ctx, `
			INSERT INTO reservation_drivers
				(reservation_id, first_name, last_name, date_of_birth, license_number, license_country, is_primary)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			d.ReservationID, d.FirstName, d.LastName, d.DateOfBirth, d.LicenseNumber, d.LicenseCountry, d.IsPrimary,
		).Scan(&d.ID); err != nil {
			return err
		}
	}

	for i := range res.Contacts {
		c := &res.Contacts[i]
		c.ReservationID = res.ID
		if err := r.tx.QueryRowContext(ctx, `
			INSERT INTO reservation_contacts (reservation_id, kind, email, phone)
			VALUES ($1, $2, $3, $4) RETURNING id`,
			c.ReservationID, c.Kind, c.Email, c.Phone,
		).Scan(&c.ID); err != nil {
			return err
		}
	}

	for i := range res.PricingItems {
		p := &res.PricingItems[i]
		p.ReservationID = res.ID
		if err := r.tx.QueryRowContext(ctx, `
			INSERT INTO reservation_pricing_items (reservation_id, kind, description, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			p.ReservationID, p.Kind, p.Description, bigString(p.UnitPrice), p.Quantity,
		).Scan(&p.ID); err != nil {
			return err
		}
	}

	return nil
}

// Update persists mutable reservation fields and bumps lock_version,
// guarding against a concurrent writer with a WHERE lock_version = $N
// clause: zero rows affected means someone else updated the row first.
func (r *postgresReservationRepo) Update(ctx context.Context, res *Reservation) error {
	result, err := r.tx.ExecContext(ctx, `
		UPDATE reservations SET
			status = $1, payment_status = $2, supplier_confirmation_number = $3,
			supplier_confirmed_at = $4, car_category_id = $5, supplier_cost_total = $6,
			commission_total = $7, lock_version = lock_version + 1, updated_at = now()
		WHERE id = $8 AND lock_version = $9`,
		res.Status, res.PaymentStatus, res.SupplierConfirmationNumber,
		nullableTime(res.SupplierConfirmedAt), res.CarCategoryID, bigString(res.SupplierCostTotal),
		bigString(res.CommissionTotal), res.ID, res.LockVersion)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.OptimisticConcurrency("reservation", res.LockVersion)
	}
	res.LockVersion++
	return nil
}

func (r *postgresReservationRepo) ListByCustomer(ctx context.Context, customerID int64, statusFilter string, params pagination.Params) (pagination.Page[Reservation], error) {
	predicate := "customer_id = $1"
	args := []any{customerID}
	if statusFilter != "" {
		predicate += " AND status = $2"
		args = append(args, statusFilter)
	}

	var total int
	if err := r.tx.QueryRowContext(ctx,
		`SELECT count(*) FROM reservations WHERE `+predicate, args...).Scan(&total); err != nil {
		return pagination.Page[Reservation]{}, err
	}

	offsetArg := fmt.Sprintf("$%d", len(args)+1)
	limitArg := fmt.Sprintf("$%d", len(args)+2)
	args = append(args, params.Offset, params.Limit)

	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, code, customer_id, supplier_id, pickup_office_id, dropoff_office_id,
		       pickup_at, dropoff_at, rental_days, car_category_id, product_id, currency,
		       public_price_total, supplier_cost_total, discount_total, taxes_total,
		       fees_total, commission_total, status, payment_status,
		       supplier_name_snapshot, pickup_office_snapshot, dropoff_office_snapshot,
		       car_category_snapshot, marketing_source, supplier_confirmation_number,
		       supplier_confirmed_at, lock_version, created_at, updated_at
		FROM reservations WHERE `+predicate+`
		ORDER BY created_at DESC OFFSET `+offsetArg+` LIMIT `+limitArg, args...)
	if err != nil {
		return pagination.Page[Reservation]{}, err
	}
	defer rows.Close()

	var items []Reservation
	for rows.Next() {
		var res Reservation
		var publicPrice, supplierCost, discount, taxes, fees, commission string
		var supplierConfirmedAt sql.NullTime
		if err := rows.Scan(
			&res.ID, &res.Code, &res.CustomerID, &res.SupplierID, &res.PickupOfficeID, &res.DropoffOfficeID,
			&res.PickupAt, &res.DropoffAt, &res.RentalDays, &res.CarCategoryID, &res.ProductID, &res.Currency,
			&publicPrice, &supplierCost, &discount, &taxes,
			&fees, &commission, &res.Status, &res.PaymentStatus,
			&res.SupplierNameSnapshot, &res.PickupOfficeSnapshot, &res.DropoffOfficeSnapshot,
			&res.CarCategorySnapshot, &res.MarketingSource, &res.SupplierConfirmationNumber,
			&supplierConfirmedAt, &res.LockVersion, &res.CreatedAt, &res.UpdatedAt,
		); err != nil {
			return pagination.Page[Reservation]{}, err
		}
		res.PublicPriceTotal, _ = new(big.Int).SetString(publicPrice, 10)
		res.SupplierCostTotal, _ = new(big.Int).SetString(supplierCost, 10)
		res.DiscountTotal, _ = new(big.Int).SetString(discount, 10)
		res.TaxesTotal, _ = new(big.Int).SetString(taxes, 10)
		res.FeesTotal, _ = new(big.Int).SetString(fees, 10)
		res.CommissionTotal, _ = new(big.Int).SetString(commission, 10)
		if supplierConfirmedAt.Valid {
			res.SupplierConfirmedAt = &supplierConfirmedAt.Time
		}
		items = append(items, res)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[Reservation]{}, err
	}

	return pagination.NewPage(items, params, total), nil
}

// bookableStatuses are the reservation lifecycle states that hold a
// car against a category/supplier for the purposes of overlap detection.
var bookableStatuses = []statemachine.Status{
	statemachine.StatusPending, statemachine.StatusOnRequest, statemachine.StatusConfirmed,
}

// CheckAvailability reports true iff no bookable reservation for the same
// (carCategoryID, supplierID) overlaps [pickup, dropoff): existing.pickup <
// dropoff AND existing.dropoff > pickup.
func (r *postgresReservationRepo) CheckAvailability(ctx context.Context, carCategoryID, supplierID int64, pickup, dropoff time.Time) (bool, error) {
	var conflicts int
	err := r.tx.QueryRowContext(ctx, `
		SELECT count(*) FROM reservations
		WHERE car_category_id = $1 AND supplier_id = $2
		  AND status = ANY($3)
		  AND pickup_at < $5 AND dropoff_at > $4`,
		carCategoryID, supplierID, pq.Array(statusesToStrings(bookableStatuses)), pickup, dropoff,
	).Scan(&conflicts)
	if err != nil {
		return false, err
	}
	return conflicts == 0, nil
}

func statusesToStrings(statuses []statemachine.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// postgresPaymentRepo implements PaymentRepo.
type postgresPaymentRepo struct {
	tx *sql.Tx
}

var _ PaymentRepo = (*postgresPaymentRepo)(nil)

func (r *postgresPaymentRepo) GetByID(ctx context.Context, id int64) (*Payment, error) {
	return r.scanOne(r.tx.QueryRowContext(ctx, paymentSelect+` WHERE id = $1`, id))
}

func (r *postgresPaymentRepo) GetByReservationID(ctx context.Context, reservationID int64) ([]Payment, error) {
	rows, err := r.tx.QueryContext(ctx, paymentSelect+` WHERE reservation_id = $1 ORDER BY created_at`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (r *postgresPaymentRepo) GetByProviderIntent(ctx context.Context, provider, intentID string) (*Payment, error) {
	return r.scanOne(r.tx.QueryRowContext(ctx,
		paymentSelect+` WHERE provider = $1 AND payment_intent_id = $2`, provider, intentID))
}

const paymentSelect = `
	SELECT id, reservation_id, provider, provider_tx_id, payment_intent_id, charge_id, event_id,
	       amount, currency, status, captured_at, refunded_at, amount_refunded,
	       fee_amount, net_amount, created_at, updated_at
	FROM payments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentRow(s rowScanner) (*Payment, error) {
	var p Payment
	var amount, feeAmount, netAmount string
	var amountRefunded sql.NullString
	err := s.Scan(
		&p.ID, &p.ReservationID, &p.Provider, &p.ProviderTxID, &p.PaymentIntentID, &p.ChargeID, &p.EventID,
		&amount, &p.Currency, &p.Status, &p.CapturedAt, &p.RefundedAt, &amountRefunded,
		&feeAmount, &netAmount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Amount, _ = new(big.Int).SetString(amount, 10)
	p.FeeAmount, _ = new(big.Int).SetString(feeAmount, 10)
	p.NetAmount, _ = new(big.Int).SetString(netAmount, 10)
	if amountRefunded.Valid {
		p.AmountRefunded, _ = new(big.Int).SetString(amountRefunded.String, 10)
	}
	return &p, nil
}

func (r *postgresPaymentRepo) scanOne(row *sql.Row) (*Payment, error) {
	p, err := scanPaymentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *postgresPaymentRepo) Save(ctx context.Context, p *Payment) error {
	return r.tx.QueryRowContext(ctx, `
		INSERT INTO payments (
			reservation_id, provider, provider_tx_id, payment_intent_id, charge_id, event_id,
			amount, currency, status, captured_at, refunded_at, amount_refunded,
			fee_amount, net_amount, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14, now(), now())
		RETURNING id, created_at, updated_at`,
		p.ReservationID, p.Provider, p.ProviderTxID, p.PaymentIntentID, p.ChargeID, p.EventID,
		bigString(p.Amount), p.Currency, p.Status, p.CapturedAt, p.RefundedAt, nullableBigString(p.AmountRefunded),
		bigString(p.FeeAmount), bigString(p.NetAmount),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *postgresPaymentRepo) Update(ctx context.Context, p *Payment) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE payments SET
			status = $1, captured_at = $2, refunded_at = $3, amount_refunded = $4,
			fee_amount = $5, net_amount = $6, updated_at = now()
		WHERE id = $7`,
		p.Status, p.CapturedAt, p.RefundedAt, nullableBigString(p.AmountRefunded),
		bigString(p.FeeAmount), bigString(p.NetAmount), p.ID)
	return err
}

func nullableBigString(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

// postgresSupplierRequestRepo implements SupplierRequestRepo. Append-only:
// no Update method exists on purpose; audit rows are immutable.
type postgresSupplierRequestRepo struct {
	tx *sql.Tx
}

var _ SupplierRequestRepo = (*postgresSupplierRequestRepo)(nil)

func (r *postgresSupplierRequestRepo) Append(ctx context.Context, row *SupplierRequest) error {
	return r.tx.QueryRowContext(ctx, `
		INSERT INTO reservation_supplier_requests (
			reservation_id, supplier_id, request_kind, attempt, status, http_code,
			error_code, error_message, request_payload, response_payload, idempotency_key, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
		RETURNING id, created_at`,
		row.ReservationID, row.SupplierID, row.RequestKind, row.Attempt, row.Status, row.HTTPCode,
		row.ErrorCode, row.ErrorMessage, row.RequestPayload, row.ResponsePayload, row.IdempotencyKey,
	).Scan(&row.ID, &row.CreatedAt)
}

// ListByReservationID returns every attempt recorded against a
// reservation, oldest first, for the supplier-request audit query.
func (r *postgresSupplierRequestRepo) ListByReservationID(ctx context.Context, reservationID int64) ([]SupplierRequest, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, reservation_id, supplier_id, request_kind, attempt, status, http_code,
		       error_code, error_message, request_payload, response_payload, idempotency_key, created_at
		FROM reservation_supplier_requests WHERE reservation_id = $1 ORDER BY id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SupplierRequest
	for rows.Next() {
		var sr SupplierRequest
		if err := rows.Scan(
			&sr.ID, &sr.ReservationID, &sr.SupplierID, &sr.RequestKind, &sr.Attempt, &sr.Status, &sr.HTTPCode,
			&sr.ErrorCode, &sr.ErrorMessage, &sr.RequestPayload, &sr.ResponsePayload, &sr.IdempotencyKey, &sr.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// postgresOutboxAppender adapts outbox.Appender to the shared transaction,
// so the coordinator can drain reservation.DomainEvents into the same
// commit as the rest of a unit of work's writes. It delegates to
// outbox.PostgresStore.Append, which only ever touches the *sql.Tx it's
// given, never the store's own db handle.
type postgresOutboxAppender struct {
	tx *sql.Tx
}

var _ outbox.Appender = (*postgresOutboxAppender)(nil)

var sharedOutboxAppender = outbox.NewPostgresStore(nil)

func (a *postgresOutboxAppender) Append(ctx context.Context, _ *sql.Tx, eventType, aggregateType string, aggregateID int64, payload any) error {
	return sharedOutboxAppender.Append(ctx, a.tx, eventType, aggregateType, aggregateID, payload)
}
