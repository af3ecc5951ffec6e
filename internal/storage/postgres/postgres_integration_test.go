//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	return m.Run()
}

type services struct {
	products *ProductRepository
	carts    *cart.Service
	orders   *order.Service
	orderDB  *OrderRepository
}

func newServices(t *testing.T) *services {
	t.Helper()

	products := NewProductRepository(testPool)
	cartRepo := NewCartRepository(testPool)
	orderRepo := NewOrderRepository(testPool)
	tx := NewTransactor(testPool)

	orders, err := order.NewService(orderRepo, cartRepo, products, inventory.NewLedger(products), tx)
	require.NoError(t, err)

	return &services{
		products: products,
		carts:    cart.NewService(cartRepo, products, tx),
		orders:   orders,
		orderDB:  orderRepo,
	}
}

func seedProduct(t *testing.T, s *services, price string, stock int) product.Product {
	t.Helper()

	p := product.Product{
		ID:     uuid.New(),
		Name:   "Product " + uuid.NewString()[:8],
		SKU:    "SKU-" + uuid.NewString(),
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	}
	require.NoError(t, s.products.Upsert(context.Background(), p))
	return p
}

func checkoutRequest() order.PlaceOrderRequest {
	return order.PlaceOrderRequest{
		PaymentMethod:  "card",
		ShippingMethod: "standard",
		ShippingAddress: order.Address{
			FullName:   "Grace Hopper",
			Phone:      "+1 555 0100",
			Line1:      "1 Navy Yard",
			City:       "Arlington",
			State:      "VA",
			PostalCode: "22202",
			Country:    "US",
		},
	}
}

func stockOf(t *testing.T, s *services, id uuid.UUID) int {
	t.Helper()
	p, err := s.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	s := newServices(t)
	p := seedProduct(t, s, "1.00", 10)
	ledger := inventory.NewLedger(s.products)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Reserve(context.Background(), p.ID, 1)
			if err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
				return
			}
			if !errors.Is(err, fault.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, reserved)
	assert.Equal(t, 0, stockOf(t, s, p.ID))

	require.NoError(t, ledger.Release(context.Background(), p.ID, 4))
	assert.Equal(t, 4, stockOf(t, s, p.ID))

	err := ledger.Release(context.Background(), uuid.New(), 1)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestProductRepository_List(t *testing.T) {
	ctx := context.Background()
	s := newServices(t)

	cheap := seedProduct(t, s, "7001.11", 3)
	soldOut := seedProduct(t, s, "7001.12", 0)
	dear := seedProduct(t, s, "7001.13", 9)

	inRange := product.ListFilter{MinPrice: decPtr("7001.11"), MaxPrice: decPtr("7001.13"), SortBy: product.SortPrice}
	res, err := s.products.List(ctx, inRange)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, product.DefaultPageSize, res.PageSize)
	require.Len(t, res.Products, 3)
	assert.Equal(t, []uuid.UUID{cheap.ID, soldOut.ID, dear.ID}, productIDs(res.Products))

	desc := inRange
	desc.Descending = true
	desc.PageSize = 2
	res, err = s.products.List(ctx, desc)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 2, res.TotalPages())
	assert.Equal(t, []uuid.UUID{dear.ID, soldOut.ID}, productIDs(res.Products))

	desc.Page = 2
	res, err = s.products.List(ctx, desc)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{cheap.ID}, productIDs(res.Products))

	inStock, outOfStock := true, false
	filtered := inRange
	filtered.InStock = &inStock
	res, err = s.products.List(ctx, filtered)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{cheap.ID, dear.ID}, productIDs(res.Products))

	filtered.InStock = &outOfStock
	res, err = s.products.List(ctx, filtered)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{soldOut.ID}, productIDs(res.Products))

	_, err = s.products.List(ctx, product.ListFilter{SortBy: "stock_quantity"})
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func productIDs(ps []product.Product) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestPlaceOrderThenCancel(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p1 := seedProduct(t, s, "10.00", 5)
	p2 := seedProduct(t, s, "2.50", 3)
	userID := uuid.New()
	owner := cart.UserOwner(userID)

	_, err := s.carts.AddItem(ctx, owner, p1.ID, 2)
	require.NoError(t, err)
	_, err = s.carts.AddItem(ctx, owner, p2.ID, 1)
	require.NoError(t, err)

	o, err := s.orders.PlaceOrder(ctx, userID, checkoutRequest())
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("22.50").Equal(o.Subtotal))
	assert.True(t, decimal.RequireFromString("2.25").Equal(o.Tax))
	assert.True(t, decimal.RequireFromString("29.75").Equal(o.Total))
	assert.Equal(t, 3, stockOf(t, s, p1.ID))
	assert.Equal(t, 2, stockOf(t, s, p2.ID))

	c, err := s.carts.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Total.IsZero())

	stored, err := s.orders.GetByNumber(ctx, o.Number, userID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, p1.ID, stored.Items[0].ProductID)
	assert.Equal(t, p1.SKU, stored.Items[0].SKU)
	assert.Equal(t, o.ShippingAddress, stored.BillingAddress)

	cancelled, err := s.orders.Cancel(ctx, o.ID, userID, "ordered by mistake")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, stockOf(t, s, p1.ID))
	assert.Equal(t, 3, stockOf(t, s, p2.ID))

	_, err = s.orders.Cancel(ctx, o.ID, userID, "again")
	assert.ErrorIs(t, err, fault.ErrInvalidTransition)
	assert.Equal(t, 5, stockOf(t, s, p1.ID))
}

func TestPlaceOrder_FailureRollsBack(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p1 := seedProduct(t, s, "10.00", 5)
	userID := uuid.New()
	owner := cart.UserOwner(userID)

	_, err := s.carts.AddItem(ctx, owner, p1.ID, 2)
	require.NoError(t, err)

	p1.Stock = 1
	require.NoError(t, s.products.Upsert(ctx, p1))

	_, err = s.orders.PlaceOrder(ctx, userID, checkoutRequest())
	require.ErrorIs(t, err, fault.ErrInsufficientStock)

	assert.Equal(t, 1, stockOf(t, s, p1.ID))
	c, err := s.carts.GetCart(ctx, owner)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)

	page, err := s.orders.List(ctx, userID, order.Page{})
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)
}

func TestPlaceOrder_ConcurrentNumbersAreUnique(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p := seedProduct(t, s, "1.00", 100)

	const buyers = 8
	users := make([]uuid.UUID, buyers)
	for i := range users {
		users[i] = uuid.New()
		_, err := s.carts.AddItem(ctx, cart.UserOwner(users[i]), p.ID, 1)
		require.NoError(t, err)
	}

	before, err := s.orders.CountPlacedOn(ctx, time.Now())
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]struct{})
	)
	for _, userID := range users {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			o, err := s.orders.PlaceOrder(ctx, userID, checkoutRequest())
			if err != nil {
				t.Errorf("place order: %v", err)
				return
			}
			mu.Lock()
			numbers[o.Number] = struct{}{}
			mu.Unlock()
		}(userID)
	}
	wg.Wait()

	assert.Len(t, numbers, buyers)
	assert.Equal(t, 100-buyers, stockOf(t, s, p.ID))

	after, err := s.orders.CountPlacedOn(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, before+buyers, after)
}

func TestCart_SessionAndUserOwners(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	p := seedProduct(t, s, "4.00", 10)

	guest := cart.SessionOwner("sess-" + uuid.NewString())
	user := cart.UserOwner(uuid.New())

	gc, err := s.carts.AddItem(ctx, guest, p.ID, 1)
	require.NoError(t, err)
	uc, err := s.carts.AddItem(ctx, user, p.ID, 3)
	require.NoError(t, err)
	assert.NotEqual(t, gc.ID, uc.ID)

	gc, err = s.carts.AddItem(ctx, guest, p.ID, 2)
	require.NoError(t, err)
	require.Len(t, gc.Items, 1)
	assert.Equal(t, 3, gc.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("12.00").Equal(gc.Total))

	gc, err = s.carts.RemoveItem(ctx, guest, gc.Items[0].ID)
	require.NoError(t, err)
	assert.True(t, gc.IsEmpty())

	_, err = s.carts.Clear(ctx, user)
	require.NoError(t, err)
	_, err = s.carts.Clear(ctx, user)
	require.NoError(t, err)
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(testPool)
	pepper := []byte("pepper")
	userID := uuid.New()

	require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      "key-" + uuid.NewString(),
		UserID:  userID,
		KeyHash: auth.HashKey("live-key", pepper),
		Name:    "integration",
		Scopes:  []string{"orders"},
	}))

	info, err := auth.NewAuthenticator(repo, pepper).Authenticate(ctx, "live-key")
	require.NoError(t, err)
	assert.Equal(t, userID, info.UserID)

	_, err = auth.NewAuthenticator(repo, pepper).Authenticate(ctx, "unknown")
	assert.ErrorIs(t, err, auth.ErrInvalidKey)
}
