package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/fault"
)

// ErrNotFound is returned when an order id or number cannot be resolved.
var ErrNotFound = errors.Wrap(fault.ErrNotFound, "order")

// Order is a placed customer order. Items are captured once at placement and
// never change afterwards; the header only changes through status
// transitions.
type Order struct {
	ID              uuid.UUID
	Number          string
	UserID          uuid.UUID
	Status          Status
	PaymentMethod   string
	PaymentStatus   string
	ShippingMethod  string
	ShippingAddress Address
	BillingAddress  Address

	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	Currency     string
	DiscountCode string

	TrackingNumber     string
	Carrier            string
	Notes              string
	EstimatedDelivery  time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
	Items     []LineItem
}

// LineItem is an immutable snapshot of a purchased product.
type LineItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	SKU         string
	ImageURL    string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	CreatedAt   time.Time
}

// Address is a postal address snapshot.
type Address struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IsZero reports whether no field of the address is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// OwnedBy reports whether the order belongs to the user.
func (o *Order) OwnedBy(userID uuid.UUID) bool {
	return o.UserID == userID
}

// Page selects a window of a user's orders. Page numbers start at 1.
type Page struct {
	Number int
	Size   int
}

// Pagination bounds.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Offset returns the number of rows preceding the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Normalize fills defaults for unset fields and validates the result.
func (p Page) Normalize() (Page, error) {
	if p.Number == 0 {
		p.Number = 1
	}
	if p.Size == 0 {
		p.Size = DefaultPageSize
	}
	if p.Number < 1 {
		return p, fault.Validationf("page must be at least 1, got %d", p.Number)
	}
	if p.Size < 1 || p.Size > MaxPageSize {
		return p, fault.Validationf("page size must be between 1 and %d, got %d", MaxPageSize, p.Size)
	}
	return p, nil
}

// PageResult is one page of a user's orders, newest first.
type PageResult struct {
	Orders     []Order
	Page       int
	PageSize   int
	TotalCount int
}

// TotalPages returns the number of pages available at the current size.
func (r *PageResult) TotalPages() int {
	if r.PageSize == 0 {
		return 0
	}
	return (r.TotalCount + r.PageSize - 1) / r.PageSize
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the header and all items of o in one write.
	Create(ctx context.Context, o *Order) error
	// GetByID returns the order with items or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// Lock is GetByID that also locks the order row until the surrounding
	// transaction ends.
	Lock(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page Page) (*PageResult, error)
	// UpdateStatus persists the status, timestamps and cancellation reason.
	UpdateStatus(ctx context.Context, o *Order) error
	// NextSequence atomically allocates the next order sequence for day.
	NextSequence(ctx context.Context, day time.Time) (int, error)
	CountWithNumberPrefix(ctx context.Context, prefix string) (int, error)
}

// Transactor runs fn inside a single storage transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
