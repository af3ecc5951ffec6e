package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
)

const productColumns = `id, name, sku, price, stock_quantity, low_stock_threshold, is_active, image_url`

const (
	// Nil filter arguments match every row.
	productFilterSQL = `FROM products
		WHERE is_active
			AND ($1::numeric IS NULL OR price >= $1)
			AND ($2::numeric IS NULL OR price <= $2)
			AND ($3::boolean IS NULL OR (stock_quantity > 0) = $3)`

	listProductsSQL = `SELECT ` + productColumns + ` ` + productFilterSQL + `
		ORDER BY %s, id
		LIMIT $4 OFFSET $5`

	countProductsSQL = `SELECT COUNT(*) ` + productFilterSQL

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1)`

	// The stock check and the decrement happen in one statement so that
	// concurrent reservations serialize on the row lock.
	reserveStockSQL = `UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND stock_quantity >= $2`

	releaseStockSQL = `UPDATE products
		SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sku) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock_quantity = EXCLUDED.stock_quantity,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			is_active = EXCLUDED.is_active,
			image_url = EXCLUDED.image_url,
			updated_at = now()`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ inventory.Store    = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and inventory.Store backed
// by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

var productOrder = map[string]string{
	product.SortCreated: "created_at",
	product.SortName:    "name",
	product.SortPrice:   "price",
}

// List returns one page of active products matching f.
func (r *ProductRepository) List(ctx context.Context, f product.ListFilter) (*product.PageResult, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}

	orderBy := productOrder[f.SortBy]
	if f.Descending {
		orderBy += " DESC"
	}
	args := []any{nullDecimal(f.MinPrice), nullDecimal(f.MaxPrice), f.InStock}

	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, countProductsSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting products: %w", err)
	}

	rows, err := q.Query(ctx, fmt.Sprintf(listProductsSQL, orderBy), append(args, f.PageSize, f.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	return &product.PageResult{
		Products:   products,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalCount: total,
	}, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %s: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &product.NotFoundError{ProductID: id}
		}
		return nil, fmt.Errorf("getting product %s: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// TryReserveStock decrements stock by qty when enough units are available and
// reports whether a row was updated.
func (r *ProductRepository) TryReserveStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, reserveStockSQL, id, qty)
	if err != nil {
		return false, fmt.Errorf("reserving stock for %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseStock returns qty units to the product's stock.
func (r *ProductRepository) ReleaseStock(ctx context.Context, id uuid.UUID, qty int) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, releaseStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("releasing stock for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &product.NotFoundError{ProductID: id}
	}
	return nil
}

// Upsert inserts the product or updates the existing one with the same SKU.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, upsertProductSQL, productArgs(p)...); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.SKU, err)
	}
	return nil
}

// UpsertBatch upserts all products in a single round trip.
func (r *ProductRepository) UpsertBatch(ctx context.Context, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, p := range products {
		b.Queue(upsertProductSQL, productArgs(p)...)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting %d products: %w", len(products), err)
	}
	return nil
}

func productArgs(p product.Product) []any {
	threshold := p.LowStockThreshold
	if threshold == 0 {
		threshold = product.DefaultLowStockThreshold
	}
	return []any{p.ID, p.Name, p.SKU, p.Price, p.Stock, threshold, p.Active, p.ImageURL}
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.SKU, &p.Price,
		&p.Stock, &p.LowStockThreshold, &p.Active, &p.ImageURL,
	)
	return p, err
}
