package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carorbit/reservations/internal/config"
	"github.com/carorbit/reservations/internal/coordinator"
	"github.com/carorbit/reservations/internal/health"
	"github.com/carorbit/reservations/internal/idempotency"
	"github.com/carorbit/reservations/internal/outbox"
	"github.com/carorbit/reservations/internal/payment"
	"github.com/carorbit/reservations/internal/reconciliation"
	"github.com/carorbit/reservations/internal/reservation"
	"github.com/carorbit/reservations/internal/supplier"
	"github.com/carorbit/reservations/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGateway struct {
	result payment.Result
	err    error
}

func (f *fakeGateway) Charge(ctx context.Context, amount int64, currency, paymentMethodID, description string, metadata map[string]string) (payment.Result, error) {
	return f.result, f.err
}

func (f *fakeGateway) VerifyWebhookSignature(payload []byte, signature, secret string) (payment.Event, error) {
	return payment.Event{}, nil
}

// newTestServer wires a Server around a migrated test database without
// going through New, so the test can inject a fake payment gateway and a
// supplier stub instead of talking to Stripe or a real supplier.
func newTestServer(t *testing.T, db *sql.DB, gw payment.Gateway) *Server {
	t.Helper()
	logger := testLogger()

	s := &Server{
		cfg:             &config.Config{RequestTimeout: 5 * time.Second},
		db:              db,
		logger:          logger,
		reservations:    reservation.NewFactory(db),
		payments:        gw,
		suppliers:       supplier.NewFactory(logger),
		idempotencyKeys: idempotency.NewPostgresStore(db, time.Hour),
		outboxStore:     outbox.NewPostgresStore(db),
		reconciler:      reconciliation.NewRunner(logger),
		healthRegistry:  health.NewRegistry(),
	}
	s.coordinator = coordinator.New(s.reservations, s.payments, s.suppliers, logger)
	s.healthRegistry.Register("database", func(ctx context.Context) health.Status {
		if err := db.PingContext(ctx); err != nil {
			return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "database", Healthy: true}
	})
	s.healthy.Store(true)

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

type serverFixture struct {
	customerID int64
	supplierID int64
	officeID   int64
}

func seedServerFixture(t *testing.T, db *sql.DB, supplierBaseURL string) serverFixture {
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

	return serverFixture{customerID: customerID, supplierID: supplierID, officeID: officeID}
}

func TestHealthEndpoints(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	s := newTestServer(t, db, &fakeGateway{})

	for _, tc := range []struct {
		path   string
		status int
	}{
		{"/health", http.StatusOK},
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusServiceUnavailable},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		s.router.ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code, tc.path)
	}
}

func TestReadinessEndpoint_ReadyAfterMarked(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	s := newTestServer(t, db, &fakeGateway{})
	s.ready.Store(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCoreRoutesRegistered(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	s := newTestServer(t, db, &fakeGateway{})

	routeSet := make(map[string]bool)
	for _, r := range s.router.Routes() {
		routeSet[r.Method+":"+r.Path] = true
	}

	for _, expected := range []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"POST:/api/v1/availability",
		"POST:/api/v1/reservations",
		"GET:/api/v1/reservations",
		"GET:/api/v1/reservations/:code",
		"GET:/api/v1/reservations/:code/supplier-requests",
		"GET:/internal/outbox",
	} {
		assert.True(t, routeSet[expected], "missing route %s", expected)
	}
}

func TestCreateReservation_EndToEnd_ReturnsConfirmedBody(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	supplierSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"confirmation_number": "LOC-1",
			"status":              "CONFIRMED",
			"total_price":         150000,
			"currency":            "usd",
		})
	}))
	defer supplierSrv.Close()

	fx := seedServerFixture(t, db, supplierSrv.URL)
	gw := &fakeGateway{result: payment.Result{
		Success: true, PaymentIntentID: "pi_1", ChargeID: "ch_1", Amount: 150000, Currency: "usd", Status: "succeeded",
	}}
	s := newTestServer(t, db, gw)

	body := `{
		"customer_id": ` + strconv.FormatInt(fx.customerID, 10) + `,
		"supplier_id": ` + strconv.FormatInt(fx.supplierID, 10) + `,
		"pickup_office_id": ` + strconv.FormatInt(fx.officeID, 10) + `,
		"dropoff_office_id": ` + strconv.FormatInt(fx.officeID, 10) + `,
		"pickup_at": "2026-02-01T10:00:00Z",
		"dropoff_at": "2026-02-05T10:00:00Z",
		"vehicle_id": 42,
		"car_category_id": 1,
		"acriss_code": "ECAR",
		"amount": "1500.00",
		"currency_code": "USD",
		"payment_method_id": "pm_ok",
		"driver_first_name": "Juan",
		"driver_last_name": "Perez",
		"driver_license_no": "D123456",
		"driver_license_country": "US",
		"driver_date_of_birth": "1990-01-01",
		"contact_email": "j@x.com",
		"contact_phone": "+5215555555555"
	}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "CONFIRMED", resp["status"])
	assert.Equal(t, "PAID", resp["payment_status"])
	assert.Equal(t, "LOC-1", resp["supplier_confirmation"])

	code, _ := resp["reservation_code"].(string)
	require.NotEmpty(t, code)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/reservations/"+code, nil)
	s.router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestGetReservation_UnknownCode_Returns404(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	s := newTestServer(t, db, &fakeGateway{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reservations/RES-20260101-ZZZZZ", nil)
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
