package supplier

import (
	"context"
	"fmt"
	"time"
)

// GenericRESTAdapter talks to a supplier that exposes a plain JSON REST
// API: POST /availability, POST /reservations, POST /reservations/{id}/confirm,
// GET /reservations/{id}. Suppliers with a bespoke wire format get their
// own adapter embedding BaseAdapter the same way; this one covers the
// common case so most suppliers need zero custom code.
type GenericRESTAdapter struct {
	*BaseAdapter

	// SingleStep suppliers confirm at booking time, so ConfirmReservation
	// is a no-op that just echoes the last known status back.
	SingleStep bool
}

var _ Gateway = (*GenericRESTAdapter)(nil)

// NewGenericRESTAdapter wraps a BaseAdapter as a Gateway.
func NewGenericRESTAdapter(base *BaseAdapter, singleStep bool) *GenericRESTAdapter {
	return &GenericRESTAdapter{BaseAdapter: base, SingleStep: singleStep}
}

type restSearchRequest struct {
	PickupOfficeCode  string `json:"pickup_office_code"`
	DropoffOfficeCode string `json:"dropoff_office_code"`
	PickupAt          string `json:"pickup_at"`
	DropoffAt         string `json:"dropoff_at"`
	DriverAge         int    `json:"driver_age,omitempty"`
}

type restOffer struct {
	ProductID     string `json:"product_id"`
	CarCategory   string `json:"car_category"`
	ACRISSCode    string `json:"acriss_code"`
	Description   string `json:"description"`
	PublicPrice   int64  `json:"public_price"`
	SupplierCost  int64  `json:"supplier_cost"`
	Currency      string `json:"currency"`
	PickupOffice  string `json:"pickup_office"`
	DropoffOffice string `json:"dropoff_office"`
}

func (a *GenericRESTAdapter) SearchAvailability(ctx context.Context, req SearchAvailabilityRequest) ([]Offer, error) {
	body := restSearchRequest{
		PickupOfficeCode:  req.PickupOfficeCode,
		DropoffOfficeCode: req.DropoffOfficeCode,
		PickupAt:          req.PickupAt.UTC().Format(time.RFC3339),
		DropoffAt:         req.DropoffAt.UTC().Format(time.RFC3339),
		DriverAge:         req.DriverAge,
	}
	var out struct {
		Offers []restOffer `json:"offers"`
	}
	if err := a.DoJSON(ctx, "searchAvailability", "POST", "/availability", body, &out); err != nil {
		return nil, err
	}

	offers := make([]Offer, 0, len(out.Offers))
	for _, o := range out.Offers {
		offers = append(offers, Offer{
			ProductID:     o.ProductID,
			CarCategory:   o.CarCategory,
			ACRISSCode:    o.ACRISSCode,
			Description:   o.Description,
			PublicPrice:   o.PublicPrice,
			SupplierCost:  o.SupplierCost,
			Currency:      o.Currency,
			PickupOffice:  o.PickupOffice,
			DropoffOffice: o.DropoffOffice,
		})
	}
	return offers, nil
}

type restCreateReservationRequest struct {
	ProductID         string `json:"product_id"`
	PickupOfficeCode  string `json:"pickup_office_code"`
	DropoffOfficeCode string `json:"dropoff_office_code"`
	PickupAt          string `json:"pickup_at"`
	DropoffAt         string `json:"dropoff_at"`
	DriverFirstName   string `json:"driver_first_name"`
	DriverLastName    string `json:"driver_last_name"`
	DriverLicenseNo   string `json:"driver_license_no"`
	ContactEmail      string `json:"contact_email"`
	ContactPhone      string `json:"contact_phone"`
	IdempotencyKey    string `json:"idempotency_key"`
}

type restCreateReservationResponse struct {
	ConfirmationNumber string `json:"confirmation_number"`
	Status             string `json:"status"`
	TotalPrice         int64  `json:"total_price"`
	Currency           string `json:"currency"`
}

func (a *GenericRESTAdapter) CreateReservation(ctx context.Context, req CreateReservationRequest) (CreateReservationResult, error) {
	body := restCreateReservationRequest{
		ProductID:         req.ProductID,
		PickupOfficeCode:  req.PickupOfficeCode,
		DropoffOfficeCode: req.DropoffOfficeCode,
		PickupAt:          req.PickupAt.UTC().Format(time.RFC3339),
		DropoffAt:         req.DropoffAt.UTC().Format(time.RFC3339),
		DriverFirstName:   req.DriverFirstName,
		DriverLastName:    req.DriverLastName,
		DriverLicenseNo:   req.DriverLicenseNo,
		ContactEmail:      req.ContactEmail,
		ContactPhone:      req.ContactPhone,
		IdempotencyKey:    req.IdempotencyKey,
	}
	var out restCreateReservationResponse
	if err := a.DoJSON(ctx, "createReservation", "POST", "/reservations", body, &out); err != nil {
		return CreateReservationResult{}, err
	}
	return CreateReservationResult{
		ConfirmationNumber: out.ConfirmationNumber,
		Status:             out.Status,
		TotalPrice:         out.TotalPrice,
		Currency:           out.Currency,
	}, nil
}

func (a *GenericRESTAdapter) ConfirmReservation(ctx context.Context, supplierCode string) (ConfirmReservationResult, error) {
	if a.SingleStep {
		status, err := a.GetReservationStatus(ctx, supplierCode)
		if err != nil {
			return ConfirmReservationResult{}, err
		}
		return ConfirmReservationResult{ConfirmationNumber: status.ConfirmationNumber, Status: status.Status}, nil
	}

	var out struct {
		ConfirmationNumber string `json:"confirmation_number"`
		Status             string `json:"status"`
	}
	endpoint := fmt.Sprintf("/reservations/%s/confirm", supplierCode)
	if err := a.DoJSON(ctx, "confirmReservation", "POST", endpoint, nil, &out); err != nil {
		return ConfirmReservationResult{}, err
	}
	return ConfirmReservationResult{ConfirmationNumber: out.ConfirmationNumber, Status: out.Status}, nil
}

func (a *GenericRESTAdapter) GetReservationStatus(ctx context.Context, supplierCode string) (ReservationStatus, error) {
	var out struct {
		ConfirmationNumber string `json:"confirmation_number"`
		Status             string `json:"status"`
		PickupCompleted    bool   `json:"pickup_completed"`
		DropoffCompleted   bool   `json:"dropoff_completed"`
	}
	endpoint := fmt.Sprintf("/reservations/%s", supplierCode)
	if err := a.DoJSON(ctx, "getReservationStatus", "GET", endpoint, nil, &out); err != nil {
		return ReservationStatus{}, err
	}
	return ReservationStatus{
		ConfirmationNumber: out.ConfirmationNumber,
		Status:             out.Status,
		PickupCompleted:    out.PickupCompleted,
		DropoffCompleted:   out.DropoffCompleted,
	}, nil
}

func (a *GenericRESTAdapter) Close() error {
	a.HTTPClient.CloseIdleConnections()
	return nil
}
