package cart

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/product"
)

// Sentinel errors for cart lookups.
var (
	ErrNotFound     = errors.Wrap(fault.ErrNotFound, "cart")
	ErrItemNotFound = errors.Wrap(fault.ErrNotFound, "cart item")
)

// MaxQuantity bounds a single line item; quantities are stored as INTEGER.
const MaxQuantity = math.MaxInt32

func checkQuantity(quantity int) error {
	if quantity < 1 || quantity > MaxQuantity {
		return fault.Validationf("quantity must be between 1 and %d, got %d", MaxQuantity, quantity)
	}
	return nil
}

// Catalog is the product lookup used to validate cart changes.
type Catalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error)
}

// Service encapsulates cart business logic. Each operation runs in its own
// transaction holding the cart row lock, so concurrent changes to one cart
// are applied one after another.
type Service struct {
	carts    Repository
	products Catalog
	tx       Transactor
	now      func() time.Time
}

// NewService creates a cart Service.
func NewService(carts Repository, products Catalog, tx Transactor) *Service {
	return &Service{
		carts:    carts,
		products: products,
		tx:       tx,
		now:      time.Now,
	}
}

// GetCart returns the owner's cart, creating an empty one on first use.
func (s *Service) GetCart(ctx context.Context, owner Owner) (*Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var c *Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.getOrCreate(ctx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AddItem adds quantity units of a product. An existing line for the same
// product is merged and re-priced at the current catalog price.
func (s *Service) AddItem(ctx context.Context, owner Owner, productID uuid.UUID, quantity int) (*Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}

	var c *Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.products.GetByID(ctx, productID)
		if err != nil {
			return err
		}

		c, err = s.getOrCreate(ctx, owner)
		if err != nil {
			return err
		}

		now := s.now()
		if item, ok := c.ItemForProduct(productID); ok {
			if quantity > MaxQuantity-item.Quantity {
				return fault.Validationf("quantity of %q would exceed %d", p.Name, MaxQuantity)
			}
			if err := p.CheckAvailable(item.Quantity + quantity); err != nil {
				return err
			}
			item.Price = p.Price
			item.SetQuantity(item.Quantity+quantity, now)
			if err := s.carts.UpdateItem(ctx, item); err != nil {
				return errors.Wrap(err, "update cart item")
			}
		} else {
			if err := p.CheckAvailable(quantity); err != nil {
				return err
			}
			item := LineItem{
				ID:        uuid.New(),
				CartID:    c.ID,
				ProductID: productID,
				Price:     p.Price,
				CreatedAt: now,
			}
			item.SetQuantity(quantity, now)
			if err := s.carts.AddItem(ctx, &item); err != nil {
				return errors.Wrap(err, "add cart item")
			}
			c.Items = append(c.Items, item)
		}

		return s.save(ctx, c, now)
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Debug("Cart item added",
		zap.Stringer("owner", owner),
		zap.Stringer("product_id", productID),
		zap.Int("quantity", quantity),
	)
	return c, nil
}

// UpdateItemQuantity sets the quantity of an existing line item.
func (s *Service) UpdateItemQuantity(ctx context.Context, owner Owner, itemID uuid.UUID, quantity int) (*Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}

	var c *Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.carts.GetByOwner(ctx, owner)
		if err != nil {
			return err
		}

		item, ok := c.Item(itemID)
		if !ok {
			return ErrItemNotFound
		}

		p, err := s.products.GetByID(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if p.Stock < quantity {
			return &product.InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: quantity,
				Available: p.Stock,
			}
		}

		now := s.now()
		item.SetQuantity(quantity, now)
		if err := s.carts.UpdateItem(ctx, item); err != nil {
			return errors.Wrap(err, "update cart item")
		}
		return s.save(ctx, c, now)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RemoveItem deletes a line item from the owner's cart.
func (s *Service) RemoveItem(ctx context.Context, owner Owner, itemID uuid.UUID) (*Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var c *Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.carts.GetByOwner(ctx, owner)
		if err != nil {
			return err
		}
		if !c.RemoveItem(itemID) {
			return ErrItemNotFound
		}
		if err := s.carts.RemoveItem(ctx, c.ID, itemID); err != nil {
			return errors.Wrap(err, "remove cart item")
		}
		return s.save(ctx, c, s.now())
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Clear empties the owner's cart. Clearing an empty cart is a no-op.
func (s *Service) Clear(ctx context.Context, owner Owner) (*Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var c *Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.getOrCreate(ctx, owner)
		if err != nil {
			return err
		}
		if c.IsEmpty() && c.Total.IsZero() {
			return nil
		}
		if err := s.carts.Clear(ctx, c.ID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		c.Empty()
		c.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) getOrCreate(ctx context.Context, owner Owner) (*Cart, error) {
	c, err := s.carts.GetByOwner(ctx, owner)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.carts.Create(ctx, New(owner, s.now())); err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	// Re-read: a concurrent request may have created the cart first.
	return s.carts.GetByOwner(ctx, owner)
}

func (s *Service) save(ctx context.Context, c *Cart, now time.Time) error {
	c.Recalculate()
	c.UpdatedAt = now
	if err := s.carts.Save(ctx, c); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}
