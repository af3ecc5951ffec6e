package product

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/fault"
)

// DefaultLowStockThreshold is used when a product has no explicit threshold.
const DefaultLowStockThreshold = 10

// Product represents a catalog item available for purchase.
type Product struct {
	ID                uuid.UUID
	Name              string
	SKU               string
	Price             decimal.Decimal
	Stock             int
	LowStockThreshold int
	Active            bool
	ImageURL          string
}

// InStock reports whether at least one unit is available.
func (p *Product) InStock() bool {
	return p.Stock > 0
}

// LowStock reports whether stock is positive but at or below the threshold.
func (p *Product) LowStock() bool {
	return p.Stock > 0 && p.Stock <= p.LowStockThreshold
}

// CheckAvailable returns an error when the product cannot be sold in the
// given quantity: UnavailableError for inactive products and
// InsufficientStockError when stock is below quantity.
func (p *Product) CheckAvailable(quantity int) error {
	if !p.Active {
		return &UnavailableError{ProductID: p.ID, Name: p.Name}
	}
	if p.Stock < quantity {
		return &InsufficientStockError{
			ProductID: p.ID,
			Name:      p.Name,
			Requested: quantity,
			Available: p.Stock,
		}
	}
	return nil
}

// NotFoundError indicates a requested product does not exist.
type NotFoundError struct {
	ProductID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Unwrap makes NotFoundError match fault.ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return fault.ErrNotFound
}

// UnavailableError indicates the product exists but is not active.
type UnavailableError struct {
	ProductID uuid.UUID
	Name      string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("product %q is not available", e.Name)
}

// Unwrap makes UnavailableError match fault.ErrProductUnavailable.
func (e *UnavailableError) Unwrap() error {
	return fault.ErrProductUnavailable
}

// InsufficientStockError indicates a requested quantity exceeds the stock.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID.String()
	}
	return fmt.Sprintf("insufficient stock for %q: requested %d, only %d units available", name, e.Requested, e.Available)
}

// Unwrap makes InsufficientStockError match fault.ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error {
	return fault.ErrInsufficientStock
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// List returns a page of active products matching f. Invalid filters
	// are reported as validation errors.
	List(ctx context.Context, f ListFilter) (*PageResult, error)
	// GetByID returns *NotFoundError when no product has the given id.
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	// GetByIDs returns the products that exist among ids; missing ids are
	// simply absent from the result.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
}
