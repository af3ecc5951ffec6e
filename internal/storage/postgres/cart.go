package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
)

const cartColumns = `id, user_id, session_id, subtotal, tax, shipping, discount, total, created_at, updated_at`

const (
	// Carts are read with FOR UPDATE so that every cart operation running in
	// a transaction holds the row until it commits.
	getCartByUserSQL = `SELECT ` + cartColumns + `
		FROM carts WHERE user_id = $1 FOR UPDATE`

	getCartBySessionSQL = `SELECT ` + cartColumns + `
		FROM carts WHERE session_id = $1 FOR UPDATE`

	listCartItemsSQL = `SELECT id, cart_id, product_id, quantity, price, subtotal, created_at, updated_at
		FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`

	// Any unique violation means the owner already has a cart.
	createCartSQL = `INSERT INTO carts (` + cartColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`

	saveCartSQL = `UPDATE carts
		SET subtotal = $2, tax = $3, shipping = $4, discount = $5, total = $6, updated_at = $7
		WHERE id = $1`

	addCartItemSQL = `INSERT INTO cart_items (id, cart_id, product_id, quantity, price, subtotal, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	updateCartItemSQL = `UPDATE cart_items
		SET quantity = $3, price = $4, subtotal = $5, updated_at = $6
		WHERE id = $1 AND cart_id = $2`

	removeCartItemSQL = `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`

	clearCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	resetCartTotalsSQL = `UPDATE carts
		SET subtotal = 0, tax = 0, shipping = 0, discount = 0, total = 0, updated_at = now()
		WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetByOwner returns the owner's cart with its items.
func (r *CartRepository) GetByOwner(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	q := conn(ctx, r.pool)

	var (
		rows pgx.Rows
		err  error
	)
	if userID, ok := owner.UserID(); ok {
		rows, err = q.Query(ctx, getCartByUserSQL, userID)
	} else if token, ok := owner.SessionToken(); ok {
		rows, err = q.Query(ctx, getCartBySessionSQL, token)
	} else {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting cart for %s: %w", owner, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart for %s: %w", owner, err)
	}

	rows, err = q.Query(ctx, listCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %s: %w", c.ID, err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of cart %s: %w", c.ID, err)
	}
	return &c, nil
}

// Create inserts the cart unless its owner already has one.
func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	var (
		userID  uuid.NullUUID
		session *string
	)
	if id, ok := c.Owner.UserID(); ok {
		userID = uuid.NullUUID{UUID: id, Valid: true}
	}
	if token, ok := c.Owner.SessionToken(); ok {
		session = &token
	}

	_, err := conn(ctx, r.pool).Exec(ctx, createCartSQL,
		c.ID, userID, session,
		c.Subtotal, c.Tax, c.Shipping, c.Discount, c.Total,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating cart %s: %w", c.ID, err)
	}
	return nil
}

// Save persists the cart totals.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, saveCartSQL,
		c.ID, c.Subtotal, c.Tax, c.Shipping, c.Discount, c.Total, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving cart %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// AddItem inserts a new line item.
func (r *CartRepository) AddItem(ctx context.Context, item *cart.LineItem) error {
	_, err := conn(ctx, r.pool).Exec(ctx, addCartItemSQL,
		item.ID, item.CartID, item.ProductID, item.Quantity,
		item.Price, item.Subtotal, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("adding item to cart %s: %w", item.CartID, err)
	}
	return nil
}

// UpdateItem persists quantity, price and subtotal of a line item.
func (r *CartRepository) UpdateItem(ctx context.Context, item *cart.LineItem) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateCartItemSQL,
		item.ID, item.CartID, item.Quantity, item.Price, item.Subtotal, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating cart item %s: %w", item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// RemoveItem deletes a line item.
func (r *CartRepository) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, removeCartItemSQL, itemID, cartID)
	if err != nil {
		return fmt.Errorf("removing cart item %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Clear deletes every item of the cart and zeroes its totals in one batch.
func (r *CartRepository) Clear(ctx context.Context, cartID uuid.UUID) error {
	b := &pgx.Batch{}
	b.Queue(clearCartItemsSQL, cartID)
	b.Queue(resetCartTotalsSQL, cartID)
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("clearing cart %s: %w", cartID, err)
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var (
		c       cart.Cart
		userID  uuid.NullUUID
		session *string
	)
	err := row.Scan(
		&c.ID, &userID, &session,
		&c.Subtotal, &c.Tax, &c.Shipping, &c.Discount, &c.Total,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}

	switch {
	case userID.Valid:
		c.Owner = cart.UserOwner(userID.UUID)
	case session != nil:
		c.Owner = cart.SessionOwner(*session)
	}
	return c, nil
}

func scanCartItem(row pgx.CollectableRow) (cart.LineItem, error) {
	var (
		item     cart.LineItem
		price    decimal.Decimal
		subtotal decimal.Decimal
	)
	err := row.Scan(
		&item.ID, &item.CartID, &item.ProductID, &item.Quantity,
		&price, &subtotal, &item.CreatedAt, &item.UpdatedAt,
	)
	item.Price = price
	item.Subtotal = subtotal
	return item, err
}
