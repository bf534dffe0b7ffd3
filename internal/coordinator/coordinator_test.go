package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carorbit/reservations/internal/apperr"
	"github.com/carorbit/reservations/internal/payment"
	"github.com/carorbit/reservations/internal/reservation"
	"github.com/carorbit/reservations/internal/statemachine"
	"github.com/carorbit/reservations/internal/supplier"
	"github.com/carorbit/reservations/internal/testutil"
)

type fixture struct {
	customerID int64
	supplierID int64
	officeID   int64
}

func seedFixture(t *testing.T, db *sql.DB, supplierBaseURL string) fixture {
	t.Helper()
	ctx := context.Background()

	var countryID, cityID, supplierID, officeID, customerID int64
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO countries (code, name) VALUES ('US', 'United States') RETURNING id`).Scan(&countryID))
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO cities (country_id, name) VALUES ($1, 'Austin') RETURNING id`, countryID).Scan(&cityID))
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO suppliers (code, name, adapter, base_url) VALUES ('HERTZ', 'Hertz', 'generic_rest', $1) RETURNING id`,
		supplierBaseURL).Scan(&supplierID))
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO offices (supplier_id, city_id, code, name, address) VALUES ($1, $2, 'AUS1', 'Austin Downtown', '1 Main St') RETURNING id`,
		supplierID, cityID).Scan(&officeID))
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO app_customers (email, first_name, last_name) VALUES ('jane@example.com', 'Jane', 'Doe') RETURNING id`,
	).Scan(&customerID))

	return fixture{customerID: customerID, supplierID: supplierID, officeID: officeID}
}

func baseRequest(fx fixture) CreateReservationRequest {
	return CreateReservationRequest{
		CustomerID:           fx.customerID,
		SupplierID:           fx.supplierID,
		PickupOfficeID:       fx.officeID,
		DropoffOfficeID:      fx.officeID,
		PickupAt:             time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		DropoffAt:            time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC),
		VehicleID:            42,
		CarCategoryID:        1,
		ACRISSCode:           "ECAR",
		Amount:               big.NewInt(150000),
		CurrencyCode:         "USD",
		PaymentMethodID:      "pm_ok",
		DriverFirstName:      "Juan",
		DriverLastName:       "Perez",
		DriverLicenseNo:      "D123456",
		DriverLicenseCountry: "US",
		DriverDateOfBirth:    time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		ContactEmail:         "j@x.com",
		ContactPhone:         "+5215555555555",
	}
}

type fakePaymentGateway struct {
	result payment.Result
	err    error
}

var _ payment.Gateway = (*fakePaymentGateway)(nil)

func (f *fakePaymentGateway) Charge(ctx context.Context, amount int64, currency, paymentMethodID, description string, metadata map[string]string) (payment.Result, error) {
	return f.result, f.err
}

func (f *fakePaymentGateway) VerifyWebhookSignature(payload []byte, signature, secret string) (payment.Event, error) {
	return payment.Event{}, nil
}

func successfulCharge() payment.Result {
	return payment.Result{
		Success:         true,
		PaymentIntentID: "pi_test_1",
		ChargeID:        "ch_test_1",
		Amount:          150000,
		Currency:        "usd",
		Status:          "succeeded",
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateReservation_HappyPath_ConfirmsAndCapturesPayment(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	supplierSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"confirmation_number": "LOC-789456",
			"status":              "CONFIRMED",
			"total_price":         150000,
			"currency":            "usd",
		})
	}))
	defer supplierSrv.Close()

	fx := seedFixture(t, db, supplierSrv.URL)
	coord := New(reservation.NewFactory(db), &fakePaymentGateway{result: successfulCharge()}, supplier.NewFactory(newTestLogger()), newTestLogger())

	result, err := coord.CreateReservation(context.Background(), baseRequest(fx))
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusConfirmed, result.Status)
	assert.Equal(t, statemachine.PaymentPaid, result.PaymentStatus)
	assert.Equal(t, "LOC-789456", result.SupplierConfirmation)
	assert.Regexp(t, `^RES-\d{8}-[A-Z0-9]{5}$`, result.ReservationCode)

	var paymentCount, outboxCount int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM payments WHERE status = 'PAID'`).Scan(&paymentCount))
	assert.Equal(t, 1, paymentCount)
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM outbox_events WHERE status = 'NEW'`).Scan(&outboxCount))
	assert.GreaterOrEqual(t, outboxCount, 3)
}

func TestCreateReservation_PaymentDeclined_ReservationStaysPendingUnpaid(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	fx := seedFixture(t, db, "https://example.test")
	coord := New(reservation.NewFactory(db), &fakePaymentGateway{result: payment.Result{
		Success:      false,
		ErrorReason:  apperr.PaymentReasonCard,
		ErrorMessage: "card declined",
	}}, supplier.NewFactory(newTestLogger()), newTestLogger())

	result, err := coord.CreateReservation(context.Background(), baseRequest(fx))
	require.Nil(t, result)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindPaymentFailed, appErr.Kind)

	var status, paymentStatus string
	require.NoError(t, db.QueryRow(`SELECT status, payment_status FROM reservations`).Scan(&status, &paymentStatus))
	assert.Equal(t, "PENDING", status)
	assert.Equal(t, "UNPAID", paymentStatus)
}

func TestCreateReservation_SupplierFails_PaymentStaysPaidReservationPending(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	supplierSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer supplierSrv.Close()

	fx := seedFixture(t, db, supplierSrv.URL)
	coord := New(reservation.NewFactory(db), &fakePaymentGateway{result: successfulCharge()}, supplier.NewFactory(newTestLogger()), newTestLogger())

	result, err := coord.CreateReservation(context.Background(), baseRequest(fx))
	require.Nil(t, result)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindSupplierFailed, appErr.Kind)

	var status, paymentStatus string
	require.NoError(t, db.QueryRow(`SELECT status, payment_status FROM reservations`).Scan(&status, &paymentStatus))
	assert.Equal(t, "PENDING", status)
	assert.Equal(t, "PAID", paymentStatus)

	var paidEvents int
	require.NoError(t, db.QueryRow(
		`SELECT count(*) FROM outbox_events WHERE event_type = 'PaymentCompleted'`).Scan(&paidEvents))
	assert.Equal(t, 1, paidEvents, "the charge settled, so PaymentCompleted is still owed")

	var refundEvents int
	require.NoError(t, db.QueryRow(
		`SELECT count(*) FROM outbox_events WHERE event_type = 'PaymentRefundRequested'`).Scan(&refundEvents))
	assert.Equal(t, 1, refundEvents)

	var auditCount int
	require.NoError(t, db.QueryRow(
		`SELECT count(*) FROM reservation_supplier_requests WHERE status = 'FAILED'`).Scan(&auditCount))
	assert.Equal(t, 1, auditCount)
}

func TestCreateReservation_OverlappingWindow_ReturnsAvailabilityConflict(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	fx := seedFixture(t, db, "https://example.test")
	coord := New(reservation.NewFactory(db), &fakePaymentGateway{result: successfulCharge()}, supplier.NewFactory(newTestLogger()), newTestLogger())

	req := baseRequest(fx)
	supplierSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"confirmation_number": "LOC-1", "status": "CONFIRMED"})
	}))
	defer supplierSrv.Close()
	require.NoError(t, db.QueryRow(`UPDATE suppliers SET base_url = $1 WHERE id = $2`, supplierSrv.URL, fx.supplierID).Err())

	_, err := coord.CreateReservation(context.Background(), req)
	require.NoError(t, err)

	req2 := req
	req2.PickupAt = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	req2.DropoffAt = time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC)

	_, err = coord.CreateReservation(context.Background(), req2)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindAvailabilityConflict, appErr.Kind)
}
