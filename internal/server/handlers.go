package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carorbit/reservations/internal/apperr"
	"github.com/carorbit/reservations/internal/coordinator"
	"github.com/carorbit/reservations/internal/idempotency"
	"github.com/carorbit/reservations/internal/logging"
	"github.com/carorbit/reservations/internal/money"
	"github.com/carorbit/reservations/internal/outbox"
	"github.com/carorbit/reservations/internal/pagination"
	"github.com/carorbit/reservations/internal/reservation"
	"github.com/carorbit/reservations/internal/supplier"
)

// -----------------------------------------------------------------------------
// POST /api/v1/availability
// -----------------------------------------------------------------------------

type availabilityRequest struct {
	SupplierID      int64  `json:"supplier_id" binding:"required"`
	PickupOfficeID  int64  `json:"pickup_office_id" binding:"required"`
	DropoffOfficeID int64  `json:"dropoff_office_id" binding:"required"`
	PickupAt        string `json:"pickup_at" binding:"required"`
	DropoffAt       string `json:"dropoff_at" binding:"required"`
	DriverAge       int    `json:"driver_age"`
}

type offerResponse struct {
	ProductID     string `json:"product_id"`
	CarCategory   string `json:"car_category"`
	ACRISSCode    string `json:"acriss_code"`
	Description   string `json:"description"`
	PublicPrice   string `json:"public_price"`
	Currency      string `json:"currency"`
	PickupOffice  string `json:"pickup_office"`
	DropoffOffice string `json:"dropoff_office"`
}

func (s *Server) availabilityHandler(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderAppError(c, apperr.Validation("body", err.Error()))
		return
	}

	pickupAt, err := time.Parse(time.RFC3339, req.PickupAt)
	if err != nil {
		renderAppError(c, apperr.Validation("pickup_at", "must be RFC 3339"))
		return
	}
	dropoffAt, err := time.Parse(time.RFC3339, req.DropoffAt)
	if err != nil {
		renderAppError(c, apperr.Validation("dropoff_at", "must be RFC 3339"))
		return
	}
	if !dropoffAt.After(pickupAt) {
		renderAppError(c, apperr.Validation("dropoff_at", "must be after pickup_at"))
		return
	}

	ctx := c.Request.Context()
	uow, err := s.reservations.Begin(ctx)
	if err != nil {
		renderAppError(c, apperr.Internal(logRequestID(c), err))
		return
	}
	defer uow.Rollback()

	sup, err := uow.Catalog.GetSupplier(ctx, req.SupplierID)
	if err != nil {
		renderAppError(c, err)
		return
	}
	pickupOffice, err := uow.Catalog.GetOffice(ctx, req.PickupOfficeID)
	if err != nil {
		renderAppError(c, err)
		return
	}
	dropoffOffice, err := uow.Catalog.GetOffice(ctx, req.DropoffOfficeID)
	if err != nil {
		renderAppError(c, err)
		return
	}

	gw, err := s.suppliers.Get(supplier.Config{Code: sup.Code, BaseURL: sup.BaseURL, Adapter: sup.Adapter})
	if err != nil {
		renderAppError(c, apperr.Internal(logRequestID(c), err))
		return
	}

	offers, err := gw.SearchAvailability(ctx, supplier.SearchAvailabilityRequest{
		PickupOfficeCode:  pickupOffice.Code,
		DropoffOfficeCode: dropoffOffice.Code,
		PickupAt:          pickupAt,
		DropoffAt:         dropoffAt,
		DriverAge:         req.DriverAge,
	})
	if err != nil {
		renderAppError(c, apperr.SupplierConfirmationFailed(true, err.Error()))
		return
	}
	if len(offers) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "NoOffersFound", "message": "no offers available for the requested dates", "code": "NO_OFFERS_FOUND"})
		return
	}

	out := make([]offerResponse, len(offers))
	for i, o := range offers {
		out[i] = offerResponse{
			ProductID:     o.ProductID,
			CarCategory:   o.CarCategory,
			ACRISSCode:    o.ACRISSCode,
			Description:   o.Description,
			PublicPrice:   money.Format(big.NewInt(o.PublicPrice)),
			Currency:      o.Currency,
			PickupOffice:  o.PickupOffice,
			DropoffOffice: o.DropoffOffice,
		}
	}
	c.JSON(http.StatusOK, gin.H{"offers": out})
}

// -----------------------------------------------------------------------------
// POST /api/v1/reservations
// -----------------------------------------------------------------------------

type createReservationRequest struct {
	CustomerID           int64  `json:"customer_id" binding:"required"`
	SupplierID           int64  `json:"supplier_id" binding:"required"`
	PickupOfficeID       int64  `json:"pickup_office_id" binding:"required"`
	DropoffOfficeID      int64  `json:"dropoff_office_id" binding:"required"`
	PickupAt             string `json:"pickup_at" binding:"required"`
	DropoffAt            string `json:"dropoff_at" binding:"required"`
	VehicleID            int64  `json:"vehicle_id"`
	CarCategoryID        int64  `json:"car_category_id"`
	ACRISSCode           string `json:"acriss_code"`
	Amount               string `json:"amount" binding:"required"`
	CurrencyCode         string `json:"currency_code" binding:"required"`
	PaymentMethodID      string `json:"payment_method_id" binding:"required"`
	DriverFirstName      string `json:"driver_first_name" binding:"required"`
	DriverLastName       string `json:"driver_last_name" binding:"required"`
	DriverLicenseNo      string `json:"driver_license_no" binding:"required"`
	DriverLicenseCountry string `json:"driver_license_country" binding:"required"`
	DriverDateOfBirth    string `json:"driver_date_of_birth" binding:"required"`
	ContactEmail         string `json:"contact_email" binding:"required"`
	ContactPhone         string `json:"contact_phone" binding:"required"`
	MarketingSource      string `json:"marketing_source"`
}

func (s *Server) createReservationHandler(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderAppError(c, apperr.Validation("body", err.Error()))
		return
	}

	pickupAt, err := time.Parse(time.RFC3339, req.PickupAt)
	if err != nil {
		renderAppError(c, apperr.Validation("pickup_at", "must be RFC 3339"))
		return
	}
	dropoffAt, err := time.Parse(time.RFC3339, req.DropoffAt)
	if err != nil {
		renderAppError(c, apperr.Validation("dropoff_at", "must be RFC 3339"))
		return
	}
	dob, err := time.Parse(time.RFC3339, req.DriverDateOfBirth)
	if err != nil {
		dob, err = time.Parse("2006-01-02", req.DriverDateOfBirth)
		if err != nil {
			renderAppError(c, apperr.Validation("driver_date_of_birth", "must be RFC 3339 or YYYY-MM-DD"))
			return
		}
	}
	amount, ok := money.Parse(req.Amount)
	if !ok {
		renderAppError(c, apperr.Validation("amount", "must be a decimal string with up to 2 fractional digits"))
		return
	}

	result, err := s.coordinator.CreateReservation(c.Request.Context(), coordinator.CreateReservationRequest{
		CustomerID:           req.CustomerID,
		SupplierID:           req.SupplierID,
		PickupOfficeID:       req.PickupOfficeID,
		DropoffOfficeID:      req.DropoffOfficeID,
		PickupAt:             pickupAt,
		DropoffAt:            dropoffAt,
		VehicleID:            req.VehicleID,
		CarCategoryID:        req.CarCategoryID,
		ACRISSCode:           req.ACRISSCode,
		Amount:               amount,
		CurrencyCode:         req.CurrencyCode,
		PaymentMethodID:      req.PaymentMethodID,
		DriverFirstName:      req.DriverFirstName,
		DriverLastName:       req.DriverLastName,
		DriverLicenseNo:      req.DriverLicenseNo,
		DriverLicenseCountry: req.DriverLicenseCountry,
		DriverDateOfBirth:    dob,
		ContactEmail:         req.ContactEmail,
		ContactPhone:         req.ContactPhone,
		MarketingSource:      req.MarketingSource,
	})
	if err != nil {
		renderAppError(c, err)
		return
	}

	body := gin.H{
		"reservation_code":      result.ReservationCode,
		"status":                string(result.Status),
		"payment_status":        string(result.PaymentStatus),
		"supplier_confirmation": result.SupplierConfirmation,
	}
	s.recordIdempotency(c, http.StatusCreated, body, result.ReservationCode)
	c.JSON(http.StatusCreated, body)
}

// recordIdempotency persists the cached response for the idempotency key
// carried on this request, if any, in its own short transaction: the
// commit protocol's own transactions (T1/T2/T3) close well before the
// handler knows the final HTTP body, so this mirrors the coordinator's
// own "separate best-effort transaction" shape rather than trying to
// thread the idempotency write through an already-committed unit of work.
func (s *Server) recordIdempotency(c *gin.Context, status int, body gin.H, referenceID string) {
	key := idempotency.Key(c)
	if key == "" {
		return
	}
	responseBody, err := json.Marshal(body)
	if err != nil {
		logging.L(c.Request.Context()).Warn("idempotency: marshal response failed", "error", err)
		return
	}

	tx, err := s.db.BeginTx(c.Request.Context(), nil)
	if err != nil {
		logging.L(c.Request.Context()).Warn("idempotency: begin tx failed", "error", err)
		return
	}
	defer tx.Rollback()

	rec := idempotency.Record{
		Scope:          "create_reservation",
		Key:            key,
		RequestHash:    idempotency.RequestHash(c),
		ResponseStatus: status,
		ResponseBody:   responseBody,
		ReferenceID:    referenceID,
	}
	if err := s.idempotencyKeys.Put(c.Request.Context(), tx, rec); err != nil {
		logging.L(c.Request.Context()).Warn("idempotency: put failed", "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		logging.L(c.Request.Context()).Warn("idempotency: commit failed", "error", err)
	}
}

// -----------------------------------------------------------------------------
// GET /api/v1/reservations/{code}
// -----------------------------------------------------------------------------

func (s *Server) getReservationHandler(c *gin.Context) {
	code := c.Param("code")
	ctx := c.Request.Context()

	uow, err := s.reservations.Begin(ctx)
	if err != nil {
		renderAppError(c, apperr.Internal(logRequestID(c), err))
		return
	}
	defer uow.Rollback()

	res, err := uow.Reservations.GetByCode(ctx, code)
	if err != nil {
		renderAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservationDTO(res))
}

// -----------------------------------------------------------------------------
// GET /api/v1/reservations?customer_id=&offset=&limit=&status=
// -----------------------------------------------------------------------------

func (s *Server) listReservationsHandler(c *gin.Context) {
	customerIDRaw := c.Query("customer_id")
	if customerIDRaw == "" {
		renderAppError(c, apperr.Validation("customer_id", "is required"))
		return
	}
	customerID := int64(parseQueryInt(c, "customer_id", 0))
	if customerID == 0 {
		renderAppError(c, apperr.Validation("customer_id", "must be a positive integer"))
		return
	}

	params := pagination.ParseParams(parseQueryInt(c, "offset", 0), parseQueryInt(c, "limit", pagination.DefaultLimit))
	statusFilter := c.Query("status")

	ctx := c.Request.Context()
	uow, err := s.reservations.Begin(ctx)
	if err != nil {
		renderAppError(c, apperr.Internal(logRequestID(c), err))
		return
	}
	defer uow.Rollback()

	page, err := uow.Reservations.ListByCustomer(ctx, customerID, statusFilter, params)
	if err != nil {
		renderAppError(c, apperr.Internal(logRequestID(c), err))
		return
	}

	items := make([]gin.H, len(page.Items))
	for i := range page.Items {
		items[i] = reservationSummaryDTO(&page.Items[i])
	}

	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    page.Total,
		"offset":   page.Offset,
		"limit":    page.Limit,
		"has_more": page.HasMore,
	})
}

// -----------------------------------------------------------------------------
// GET /api/v1/reservations/{code}/supplier-requests
// -----------------------------------------------------------------------------

func (s *Server) supplierRequestsHandler(c *gin.Context) {
	code := c.Param("code")
	ctx := c.Request.Context()

	uow, err := s.reservations.Begin(ctx)
	if err != nil {
		renderAppError(c, apperr.Internal(logRequestID(c), err))
		return
	}
	defer uow.Rollback()

	res, err := uow.Reservations.GetByCode(ctx, code)
	if err != nil {
		renderAppError(c, err)
		return
	}

	requests, err := uow.SupplierRequests.ListByReservationID(ctx, res.ID)
	if err != nil {
		renderAppError(c, apperr.Internal(logRequestID(c), err))
		return
	}

	out := make([]gin.H, len(requests))
	for i, r := range requests {
		out[i] = gin.H{
			"request_kind":    r.RequestKind,
			"attempt":         r.Attempt,
			"status":          r.Status,
			"http_code":       r.HTTPCode,
			"error_code":      r.ErrorCode,
			"error_message":   r.ErrorMessage,
			"idempotency_key": r.IdempotencyKey,
			"created_at":      r.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, gin.H{"reservation_code": code, "supplier_requests": out})
}

// -----------------------------------------------------------------------------
// GET /internal/outbox?status=FAILED
// -----------------------------------------------------------------------------

func (s *Server) outboxPoisonQueueHandler(c *gin.Context) {
	status := c.DefaultQuery("status", string(outbox.StatusFailed))

	rows, err := s.db.QueryContext(c.Request.Context(), `
		SELECT id, event_type, aggregate_type, aggregate_id, status, attempts, created_at
		FROM outbox_events WHERE status = $1 ORDER BY id LIMIT 200`, status)
	if err != nil {
		renderAppError(c, apperr.Internal(logRequestID(c), err))
		return
	}
	defer rows.Close()

	var out []gin.H
	for rows.Next() {
		var id, aggregateID int64
		var eventType, aggregateType, rowStatus string
		var attempts int
		var createdAt time.Time
		if err := rows.Scan(&id, &eventType, &aggregateType, &aggregateID, &rowStatus, &attempts, &createdAt); err != nil {
			renderAppError(c, apperr.Internal(logRequestID(c), err))
			return
		}
		out = append(out, gin.H{
			"id":             id,
			"event_type":     eventType,
			"aggregate_type": aggregateType,
			"aggregate_id":   aggregateID,
			"status":         rowStatus,
			"attempts":       attempts,
			"created_at":     createdAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// -----------------------------------------------------------------------------
// DTOs
// -----------------------------------------------------------------------------

func reservationDTO(r *reservation.Reservation) gin.H {
	drivers := make([]gin.H, len(r.Drivers))
	for i, d := range r.Drivers {
		drivers[i] = gin.H{
			"first_name":      d.FirstName,
			"last_name":       d.LastName,
			"date_of_birth":   d.DateOfBirth.UTC().Format("2006-01-02"),
			"license_number":  d.LicenseNumber,
			"license_country": d.LicenseCountry,
			"is_primary":      d.IsPrimary,
		}
	}
	contacts := make([]gin.H, len(r.Contacts))
	for i, ct := range r.Contacts {
		contacts[i] = gin.H{"kind": ct.Kind, "email": ct.Email, "phone": ct.Phone}
	}
	pricing := make([]gin.H, len(r.PricingItems))
	for i, p := range r.PricingItems {
		pricing[i] = gin.H{
			"kind":        p.Kind,
			"description": p.Description,
			"unit_price":  money.Format(p.UnitPrice),
			"quantity":    p.Quantity,
		}
	}

	body := reservationSummaryDTO(r)
	body["drivers"] = drivers
	body["contacts"] = contacts
	body["pricing_items"] = pricing
	return body
}

func reservationSummaryDTO(r *reservation.Reservation) gin.H {
	var supplierConfirmedAt any
	if r.SupplierConfirmedAt != nil {
		supplierConfirmedAt = r.SupplierConfirmedAt.UTC().Format(time.RFC3339)
	}
	return gin.H{
		"code":                  r.Code,
		"customer_id":           r.CustomerID,
		"supplier_id":           r.SupplierID,
		"pickup_office_id":      r.PickupOfficeID,
		"dropoff_office_id":     r.DropoffOfficeID,
		"pickup_at":             r.PickupAt.UTC().Format(time.RFC3339),
		"dropoff_at":            r.DropoffAt.UTC().Format(time.RFC3339),
		"rental_days":           r.RentalDays,
		"currency":              r.Currency,
		"public_price_total":    money.Format(r.PublicPriceTotal),
		"supplier_cost_total":   money.Format(r.SupplierCostTotal),
		"discount_total":        money.Format(r.DiscountTotal),
		"taxes_total":           money.Format(r.TaxesTotal),
		"fees_total":            money.Format(r.FeesTotal),
		"commission_total":      money.Format(r.CommissionTotal),
		"status":                r.Status,
		"payment_status":        r.PaymentStatus,
		"supplier_name":         r.SupplierNameSnapshot,
		"pickup_office_name":    r.PickupOfficeSnapshot,
		"dropoff_office_name":   r.DropoffOfficeSnapshot,
		"car_category_name":     r.CarCategorySnapshot,
		"marketing_source":      r.MarketingSource,
		"supplier_confirmation": r.SupplierConfirmationNumber,
		"supplier_confirmed_at": supplierConfirmedAt,
		"created_at":            r.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":            r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func logRequestID(c *gin.Context) string {
	return c.GetHeader("X-Request-ID")
}
