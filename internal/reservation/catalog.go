package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/carorbit/reservations/internal/apperr"
)

// Supplier is a row of the read-only suppliers catalog.
type Supplier struct {
	ID       int64
	Code     string
	Name     string
	Adapter  string
	BaseURL  string
	IsActive bool
}

// Office is a row of the read-only offices catalog, scoped to a supplier.
type Office struct {
	ID         int64
	SupplierID int64
	CityID     int64
	Code       string
	Name       string
	Address    string
}

// Customer is a row of the read-only app_customers catalog.
type Customer struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
}

// CatalogRepo is the read-only reference-data contract the coordinator's
// T1 step uses to fetch the supplier and offices a booking request names.
type CatalogRepo interface {
	GetSupplier(ctx context.Context, id int64) (*Supplier, error)
	GetOffice(ctx context.Context, id int64) (*Office, error)
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
}

type postgresCatalogRepo struct {
	tx *sql.Tx
}

var _ CatalogRepo = (*postgresCatalogRepo)(nil)

func (c *postgresCatalogRepo) GetSupplier(ctx context.Context, id int64) (*Supplier, error) {
	row := c.tx.QueryRowContext(ctx, `
		SELECT id, code, name, adapter, base_url, is_active
		FROM suppliers WHERE id = $1`, id)

	var s Supplier
	if err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Adapter, &s.BaseURL, &s.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Validation("supplier_id", fmt.Sprintf("supplier %d does not exist", id))
		}
		return nil, fmt.Errorf("reservation: get supplier: %w", err)
	}
	return &s, nil
}

func (c *postgresCatalogRepo) GetOffice(ctx context.Context, id int64) (*Office, error) {
	row := c.tx.QueryRowContext(ctx, `
		SELECT id, supplier_id, city_id, code, name, address
		FROM offices WHERE id = $1`, id)

	var o Office
	if err := row.Scan(&o.ID, &o.SupplierID, &o.CityID, &o.Code, &o.Name, &o.Address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Validation("office_id", fmt.Sprintf("office %d does not exist", id))
		}
		return nil, fmt.Errorf("reservation: get office: %w", err)
	}
	return &o, nil
}

func (c *postgresCatalogRepo) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	row := c.tx.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name
		FROM app_customers WHERE id = $1`, id)

	var cu Customer
	if err := row.Scan(&cu.ID, &cu.Email, &cu.FirstName, &cu.LastName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Validation("customer_id", fmt.Sprintf("customer %d does not exist", id))
		}
		return nil, fmt.Errorf("reservation: get customer: %w", err)
	}
	return &cu, nil
}
