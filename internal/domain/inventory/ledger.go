// Package inventory owns stock mutation. Every change to a product's stock
// quantity goes through Ledger, which relies on the store performing a single
// conditional update per call so that concurrent reservations never oversell.
package inventory

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/product"
)

// Store is the storage contract for stock mutation.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error)
	// TryReserveStock decrements stock by qty only when at least qty units
	// are available. It reports false when no row was updated.
	TryReserveStock(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	// ReleaseStock increments stock by qty. It returns *product.NotFoundError
	// for unknown products.
	ReleaseStock(ctx context.Context, id uuid.UUID, qty int) error
}

// Ledger reserves and releases product stock.
type Ledger struct {
	store Store
}

// NewLedger creates a Ledger backed by the given Store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Reserve atomically takes qty units of the product out of stock.
//
// It returns *product.InsufficientStockError when fewer than qty units are
// available and *product.NotFoundError when the product does not exist.
func (l *Ledger) Reserve(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty < 1 {
		return fault.Validationf("reserve quantity must be at least 1, got %d", qty)
	}

	ok, err := l.store.TryReserveStock(ctx, productID, qty)
	if err != nil {
		return errors.Wrapf(err, "reserve %d of %s", qty, productID)
	}
	if ok {
		return nil
	}

	// Nothing was updated: either the product is gone or stock is short.
	p, err := l.store.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	return &product.InsufficientStockError{
		ProductID: p.ID,
		Name:      p.Name,
		Requested: qty,
		Available: p.Stock,
	}
}

// Release returns qty units of the product to stock.
func (l *Ledger) Release(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty < 1 {
		return fault.Validationf("release quantity must be at least 1, got %d", qty)
	}
	if err := l.store.ReleaseStock(ctx, productID, qty); err != nil {
		if fault.KindOf(err) == fault.KindNotFound {
			return err
		}
		return errors.Wrapf(err, "release %d of %s", qty, productID)
	}
	return nil
}
