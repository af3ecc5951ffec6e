package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const orderColumns = `id, order_number, user_id, status, payment_method, payment_status, shipping_method,
	shipping_address, billing_address, subtotal, tax, shipping_cost, discount, total, currency,
	discount_code, tracking_number, carrier, notes, estimated_delivery, delivered_at, cancelled_at,
	cancellation_reason, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, product_name, sku, image_url, quantity, unit_price, subtotal, created_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25)`

	createOrderItemSQL = `INSERT INTO order_items (position, ` + orderItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderByIDSQL + ` FOR UPDATE`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, order_number DESC
		LIMIT $2 OFFSET $3`

	countOrdersByUserSQL = `SELECT COUNT(*) FROM orders WHERE user_id = $1`

	listOrderItemsSQL = `SELECT ` + orderItemColumns + ` FROM order_items
		WHERE order_id = ANY($1) ORDER BY order_id, position`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $2, delivered_at = $3, cancelled_at = $4, cancellation_reason = $5,
			tracking_number = $6, carrier = $7, updated_at = $8
		WHERE id = $1`

	// The first order of a day seeds the counter from the orders already
	// numbered for that day; every later one increments it under the row lock.
	nextOrderSequenceSQL = `INSERT INTO order_sequences (day, value)
		VALUES ($1, (SELECT COUNT(*) FROM orders WHERE order_number LIKE $2) + 1)
		ON CONFLICT (day) DO UPDATE SET value = order_sequences.value + 1
		RETURNING value`

	countOrdersWithPrefixSQL = `SELECT COUNT(*) FROM orders WHERE order_number LIKE $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order header and its items in one transaction. The
// addresses are serialized to JSON for storage in JSONB columns.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshaling billing address: %w", err)
	}

	return withinTx(ctx, r.pool, func(ctx context.Context) error {
		q := conn(ctx, r.pool)

		_, err := q.Exec(ctx, createOrderSQL,
			o.ID, o.Number, o.UserID, string(o.Status), o.PaymentMethod, o.PaymentStatus, o.ShippingMethod,
			shipping, billing, o.Subtotal, o.Tax, o.ShippingCost, o.Discount, o.Total, o.Currency,
			o.DiscountCode, o.TrackingNumber, o.Carrier, o.Notes, o.EstimatedDelivery, o.DeliveredAt, o.CancelledAt,
			o.CancellationReason, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("creating order %s: %w", o.Number, err)
		}

		b := &pgx.Batch{}
		for i, item := range o.Items {
			b.Queue(createOrderItemSQL,
				i, item.ID, o.ID, item.ProductID, item.ProductName, item.SKU, item.ImageURL,
				item.Quantity, item.UnitPrice, item.Subtotal, item.CreatedAt,
			)
		}
		if err := q.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("creating items of order %s: %w", o.Number, err)
		}
		return nil
	})
}

// GetByID returns the order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// Lock returns the order with its items and locks the order row for the rest
// of the surrounding transaction.
func (r *OrderRepository) Lock(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return r.getOne(ctx, lockOrderSQL, id)
}

// GetByNumber returns the order with the given order number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByNumberSQL, number)
}

func (r *OrderRepository) getOne(ctx context.Context, sql string, arg any) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %v: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %v: %w", arg, err)
	}

	orders := []order.Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByUser returns one page of the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID, page order.Page) (*order.PageResult, error) {
	q := conn(ctx, r.pool)

	var total int
	if err := q.QueryRow(ctx, countOrdersByUserSQL, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting orders of user %s: %w", userID, err)
	}

	rows, err := q.Query(ctx, listOrdersByUserSQL, userID, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %s: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %s: %w", userID, err)
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	return &order.PageResult{
		Orders:     orders,
		Page:       page.Number,
		PageSize:   page.Size,
		TotalCount: total,
	}, nil
}

// UpdateStatus persists the mutable header fields of o.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateOrderStatusSQL,
		o.ID, string(o.Status), o.DeliveredAt, o.CancelledAt, o.CancellationReason,
		o.TrackingNumber, o.Carrier, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating status of order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// NextSequence allocates the next order number sequence for day.
func (r *OrderRepository) NextSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	err := conn(ctx, r.pool).QueryRow(ctx, nextOrderSequenceSQL,
		order.Day(day), order.NumberPrefix(day)+"%",
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocating order sequence for %s: %w", day.Format(time.DateOnly), err)
	}
	return seq, nil
}

// CountWithNumberPrefix counts orders whose number starts with prefix.
func (r *OrderRepository) CountWithNumberPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	if err := conn(ctx, r.pool).QueryRow(ctx, countOrdersWithPrefixSQL, prefix+"%").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders with prefix %q: %w", prefix, err)
	}
	return n, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := conn(ctx, r.pool).Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	for _, item := range items {
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                 order.Order
		status            string
		shipping, billing []byte
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &status, &o.PaymentMethod, &o.PaymentStatus, &o.ShippingMethod,
		&shipping, &billing, &o.Subtotal, &o.Tax, &o.ShippingCost, &o.Discount, &o.Total, &o.Currency,
		&o.DiscountCode, &o.TrackingNumber, &o.Carrier, &o.Notes, &o.EstimatedDelivery, &o.DeliveredAt, &o.CancelledAt,
		&o.CancellationReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	o.Status = order.Status(status)
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling billing address: %w", err)
	}
	return o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.LineItem, error) {
	var item order.LineItem
	err := row.Scan(
		&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.SKU, &item.ImageURL,
		&item.Quantity, &item.UnitPrice, &item.Subtotal, &item.CreatedAt,
	)
	return item, err
}
