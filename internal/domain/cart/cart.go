// Package cart tracks a buyer's in-progress selection and its totals.
package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cart holds line items for exactly one Owner. The monetary fields are
// derived from the items by Recalculate and are never set independently.
type Cart struct {
	ID        uuid.UUID
	Owner     Owner
	Items     []LineItem
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Shipping  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineItem is one product entry in a cart with the price captured when it
// was last added.
type LineItem struct {
	ID        uuid.UUID
	CartID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	Price     decimal.Decimal
	Subtotal  decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an empty cart for the owner.
func New(owner Owner, now time.Time) *Cart {
	return &Cart{
		ID:        uuid.New(),
		Owner:     owner,
		Subtotal:  decimal.Zero,
		Tax:       decimal.Zero,
		Shipping:  decimal.Zero,
		Discount:  decimal.Zero,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsEmpty reports whether the cart has no line items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Item returns the line item with the given id.
func (c *Cart) Item(id uuid.UUID) (*LineItem, bool) {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// ItemForProduct returns the line item referencing the product.
func (c *Cart) ItemForProduct(productID uuid.UUID) (*LineItem, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// RemoveItem drops the line item with the given id and reports whether it
// was present.
func (c *Cart) RemoveItem(id uuid.UUID) bool {
	for i := range c.Items {
		if c.Items[i].ID == id {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Empty removes all items and zeroes the totals.
func (c *Cart) Empty() {
	c.Items = nil
	c.Recalculate()
}

// Recalculate derives the cart totals from its items. Tax, shipping and
// discount are only computed at checkout, so they stay zero here.
func (c *Cart) Recalculate() {
	subtotal := decimal.Zero
	for _, item := range c.Items {
		subtotal = subtotal.Add(item.Subtotal)
	}
	c.Subtotal = subtotal.Round(2)
	c.Tax = decimal.Zero
	c.Shipping = decimal.Zero
	c.Discount = decimal.Zero
	c.Total = c.Subtotal
}

// SetQuantity updates the quantity and recomputes the line subtotal.
func (li *LineItem) SetQuantity(qty int, now time.Time) {
	li.Quantity = qty
	li.Subtotal = lineSubtotal(li.Price, qty)
	li.UpdatedAt = now
}

func lineSubtotal(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// Repository defines persistence operations for carts. Every mutating call is
// persisted immediately; callers group them with a Transactor.
type Repository interface {
	// GetByOwner returns the owner's cart with its items, or ErrNotFound.
	// Within a transaction the cart row stays locked until commit.
	GetByOwner(ctx context.Context, owner Owner) (*Cart, error)
	// Create inserts the cart unless the owner already has one.
	Create(ctx context.Context, c *Cart) error
	// Save persists the cart totals.
	Save(ctx context.Context, c *Cart) error
	AddItem(ctx context.Context, item *LineItem) error
	UpdateItem(ctx context.Context, item *LineItem) error
	RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error
	// Clear removes all items and zeroes the stored totals.
	Clear(ctx context.Context, cartID uuid.UUID) error
}

// Transactor runs fn inside a single storage transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
