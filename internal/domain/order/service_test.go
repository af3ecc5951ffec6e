package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

// world is an in-memory store with snapshot/rollback transactions. Only one
// transaction runs at a time, which mirrors the row locks taken by the
// postgres store for a single cart or order.
type world struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products map[uuid.UUID]product.Product
	carts    map[uuid.UUID]cart.Cart
	orders   map[uuid.UUID]Order
	seq      map[string]int

	failReserve map[uuid.UUID]error
	failClear   error
	// failCommit makes WithinTx roll back after fn succeeded.
	failCommit error
}

type snapshot struct {
	products map[uuid.UUID]product.Product
	carts    map[uuid.UUID]cart.Cart
	orders   map[uuid.UUID]Order
	seq      map[string]int
}

func newWorld() *world {
	return &world{
		products:    make(map[uuid.UUID]product.Product),
		carts:       make(map[uuid.UUID]cart.Cart),
		orders:      make(map[uuid.UUID]Order),
		seq:         make(map[string]int),
		failReserve: make(map[uuid.UUID]error),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (w *world) snapshot() snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return snapshot{
		products: cloneMap(w.products),
		carts:    cloneMap(w.carts),
		orders:   cloneMap(w.orders),
		seq:      cloneMap(w.seq),
	}
}

func (w *world) restore(s snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.products, w.carts, w.orders, w.seq = s.products, s.carts, s.orders, s.seq
}

func (w *world) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	w.txMu.Lock()
	defer w.txMu.Unlock()

	snap := w.snapshot()
	if err := fn(ctx); err != nil {
		w.restore(snap)
		return err
	}
	if w.failCommit != nil {
		w.restore(snap)
		return w.failCommit
	}
	return nil
}

func (w *world) stock(id uuid.UUID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.products[id].Stock
}

func (w *world) orderCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.orders)
}

func (w *world) cartOf(userID uuid.UUID) cart.Cart {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.carts[userID]
}

type memProducts struct{ w *world }

func (m memProducts) GetByID(_ context.Context, id uuid.UUID) (*product.Product, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	p, ok := m.w.products[id]
	if !ok {
		return nil, &product.NotFoundError{ProductID: id}
	}
	return &p, nil
}

func (m memProducts) GetByIDs(_ context.Context, ids []uuid.UUID) ([]product.Product, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	var out []product.Product
	for _, id := range ids {
		if p, ok := m.w.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m memProducts) TryReserveStock(_ context.Context, id uuid.UUID, qty int) (bool, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	if err := m.w.failReserve[id]; err != nil {
		return false, err
	}
	p, ok := m.w.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	m.w.products[id] = p
	return true, nil
}

func (m memProducts) ReleaseStock(_ context.Context, id uuid.UUID, qty int) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	p, ok := m.w.products[id]
	if !ok {
		return &product.NotFoundError{ProductID: id}
	}
	p.Stock += qty
	m.w.products[id] = p
	return nil
}

type memCarts struct{ w *world }

func (m memCarts) GetByOwner(_ context.Context, owner cart.Owner) (*cart.Cart, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	userID, ok := owner.UserID()
	if !ok {
		return nil, cart.ErrNotFound
	}
	c, ok := m.w.carts[userID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	c.Items = append([]cart.LineItem(nil), c.Items...)
	return &c, nil
}

func (m memCarts) Clear(_ context.Context, cartID uuid.UUID) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	if m.w.failClear != nil {
		return m.w.failClear
	}
	for userID, c := range m.w.carts {
		if c.ID == cartID {
			c.Empty()
			m.w.carts[userID] = c
			return nil
		}
	}
	return cart.ErrNotFound
}

type memOrders struct{ w *world }

func (m memOrders) Create(_ context.Context, o *Order) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	for _, existing := range m.w.orders {
		if existing.Number == o.Number {
			return errors.Errorf("duplicate order number %s", o.Number)
		}
	}
	m.w.orders[o.ID] = *o
	return nil
}

func (m memOrders) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	o, ok := m.w.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m memOrders) Lock(ctx context.Context, id uuid.UUID) (*Order, error) {
	return m.GetByID(ctx, id)
}

func (m memOrders) GetByNumber(_ context.Context, number string) (*Order, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	for _, o := range m.w.orders {
		if o.Number == number {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (m memOrders) ListByUser(_ context.Context, userID uuid.UUID, page Page) (*PageResult, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	var all []Order
	for _, o := range m.w.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	// Newest first; numbers sort by date and sequence.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].Number > all[j-1].Number; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	res := &PageResult{Page: page.Number, PageSize: page.Size, TotalCount: len(all)}
	start := min(page.Offset(), len(all))
	end := min(start+page.Size, len(all))
	res.Orders = all[start:end]
	return res, nil
}

func (m memOrders) UpdateStatus(_ context.Context, o *Order) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	if _, ok := m.w.orders[o.ID]; !ok {
		return ErrNotFound
	}
	m.w.orders[o.ID] = *o
	return nil
}

func (m memOrders) NextSequence(_ context.Context, day time.Time) (int, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	key := day.Format(numberDateLayout)
	m.w.seq[key]++
	return m.w.seq[key], nil
}

func (m memOrders) CountWithNumberPrefix(_ context.Context, prefix string) (int, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()

	n := 0
	for _, o := range m.w.orders {
		if len(o.Number) >= len(prefix) && o.Number[:len(prefix)] == prefix {
			n++
		}
	}
	return n, nil
}

// --- Helpers ---

var testNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	svc   *Service
	world *world
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	w := newWorld()
	svc, err := NewService(
		memOrders{w},
		memCarts{w},
		memProducts{w},
		inventory.NewLedger(memProducts{w}),
		w,
		opts...,
	)
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	return &testEnv{svc: svc, world: w}
}

func (e *testEnv) addProduct(name string, price string, stock int) product.Product {
	p := product.Product{
		ID:       uuid.New(),
		Name:     name,
		SKU:      "SKU-" + name,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		Active:   true,
		ImageURL: "https://cdn.example.com/" + name + ".jpg",
	}
	e.world.mu.Lock()
	e.world.products[p.ID] = p
	e.world.mu.Unlock()
	return p
}

type line struct {
	product product.Product
	qty     int
}

func (e *testEnv) fillCart(userID uuid.UUID, lines ...line) cart.Cart {
	c := cart.New(cart.UserOwner(userID), testNow)
	for _, l := range lines {
		item := cart.LineItem{
			ID:        uuid.New(),
			CartID:    c.ID,
			ProductID: l.product.ID,
			Price:     l.product.Price,
		}
		item.SetQuantity(l.qty, testNow)
		c.Items = append(c.Items, item)
	}
	c.Recalculate()

	e.world.mu.Lock()
	e.world.carts[userID] = *c
	e.world.mu.Unlock()
	return *c
}

func validRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		PaymentMethod:  "card",
		ShippingMethod: "standard",
		ShippingAddress: Address{
			FullName:   "Ada Lovelace",
			Phone:      "+44 20 7946 0000",
			Line1:      "12 St James's Square",
			City:       "London",
			State:      "London",
			PostalCode: "SW1Y 4JH",
			Country:    "GB",
		},
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// --- Tests ---

func TestPlaceOrder_Standard(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addProduct("widget", "10.00", 5)
	userID := uuid.New()
	env.fillCart(userID, line{p1, 2})

	o, err := env.svc.PlaceOrder(context.Background(), userID, validRequest())
	require.NoError(t, err)

	assert.True(t, dec("20.00").Equal(o.Subtotal))
	assert.True(t, dec("2.00").Equal(o.Tax))
	assert.True(t, dec("5.00").Equal(o.ShippingCost))
	assert.True(t, o.Discount.IsZero())
	assert.True(t, dec("27.00").Equal(o.Total))
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, "ORD-20260301-00001", o.Number)
	assert.Equal(t, "USD", o.Currency)
	assert.Equal(t, testNow.AddDate(0, 0, 7), o.EstimatedDelivery)
	assert.Equal(t, o.ShippingAddress, o.BillingAddress)

	require.Len(t, o.Items, 1)
	item := o.Items[0]
	assert.Equal(t, p1.ID, item.ProductID)
	assert.Equal(t, "widget", item.ProductName)
	assert.Equal(t, "SKU-widget", item.SKU)
	assert.Equal(t, p1.ImageURL, item.ImageURL)
	assert.Equal(t, 2, item.Quantity)
	assert.True(t, dec("10.00").Equal(item.UnitPrice))
	assert.True(t, dec("20.00").Equal(item.Subtotal))

	assert.Equal(t, 3, env.world.stock(p1.ID))
	assert.Empty(t, env.world.cartOf(userID).Items)
	assert.True(t, env.world.cartOf(userID).Total.IsZero())
	assert.Equal(t, 1, env.world.orderCount())
}

func TestPlaceOrder_InsufficientStockLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addProduct("widget", "10.00", 1)
	userID := uuid.New()
	before := env.fillCart(userID, line{p1, 2})

	_, err := env.svc.PlaceOrder(context.Background(), userID, validRequest())

	var stockErr *product.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, p1.ID, stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 1, env.world.stock(p1.ID))
	assert.Equal(t, before.Items, env.world.cartOf(userID).Items)
	assert.Zero(t, env.world.orderCount())
}

func TestPlaceOrder_RollsBackOnLateFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(w *world, second product.Product)
	}{
		{
			name: "reservation of second line fails",
			setup: func(w *world, second product.Product) {
				w.failReserve[second.ID] = errors.New("connection reset")
			},
		},
		{
			name: "cart clear fails",
			setup: func(w *world, _ product.Product) {
				w.failClear = errors.New("connection reset")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			p1 := env.addProduct("widget", "10.00", 5)
			p2 := env.addProduct("gadget", "3.50", 5)
			userID := uuid.New()
			env.fillCart(userID, line{p1, 2}, line{p2, 1})
			tt.setup(env.world, p2)

			_, err := env.svc.PlaceOrder(context.Background(), userID, validRequest())
			require.Error(t, err)
			assert.False(t, fault.Expected(err))

			assert.Equal(t, 5, env.world.stock(p1.ID))
			assert.Equal(t, 5, env.world.stock(p2.ID))
			assert.Len(t, env.world.cartOf(userID).Items, 2)
			assert.Zero(t, env.world.orderCount())

			// The sequence allocation is rolled back too.
			env.world.failReserve = map[uuid.UUID]error{}
			env.world.failClear = nil
			o, err := env.svc.PlaceOrder(context.Background(), userID, validRequest())
			require.NoError(t, err)
			assert.Equal(t, "ORD-20260301-00001", o.Number)
		})
	}
}

func TestPlaceOrder_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(env *testEnv, userID uuid.UUID)
		wantErr error
	}{
		{
			name:    "no cart",
			prepare: func(*testEnv, uuid.UUID) {},
			wantErr: fault.ErrEmptyCart,
		},
		{
			name: "empty cart",
			prepare: func(env *testEnv, userID uuid.UUID) {
				env.fillCart(userID)
			},
			wantErr: fault.ErrEmptyCart,
		},
		{
			name: "product removed from catalog",
			prepare: func(env *testEnv, userID uuid.UUID) {
				env.fillCart(userID, line{product.Product{ID: uuid.New(), Price: dec("1.00")}, 1})
			},
			wantErr: fault.ErrNotFound,
		},
		{
			name: "product deactivated",
			prepare: func(env *testEnv, userID uuid.UUID) {
				p := env.addProduct("retired", "1.00", 10)
				env.world.mu.Lock()
				p.Active = false
				env.world.products[p.ID] = p
				env.world.mu.Unlock()
				env.fillCart(userID, line{p, 1})
			},
			wantErr: fault.ErrProductUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			userID := uuid.New()
			tt.prepare(env, userID)

			_, err := env.svc.PlaceOrder(context.Background(), userID, validRequest())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, env.world.orderCount())
		})
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	long := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'x'
		}
		return string(b)
	}

	tests := []struct {
		name   string
		mutate func(r *PlaceOrderRequest)
	}{
		{name: "missing payment method", mutate: func(r *PlaceOrderRequest) { r.PaymentMethod = " " }},
		{name: "missing shipping method", mutate: func(r *PlaceOrderRequest) { r.ShippingMethod = "" }},
		{name: "long shipping method", mutate: func(r *PlaceOrderRequest) { r.ShippingMethod = long(51) }},
		{name: "missing address line", mutate: func(r *PlaceOrderRequest) { r.ShippingAddress.Line1 = "" }},
		{name: "missing country", mutate: func(r *PlaceOrderRequest) { r.ShippingAddress.Country = "" }},
		{name: "incomplete billing", mutate: func(r *PlaceOrderRequest) { r.BillingAddress = &Address{FullName: "Ada"} }},
		{name: "long notes", mutate: func(r *PlaceOrderRequest) { r.Notes = long(1001) }},
		{name: "long discount code", mutate: func(r *PlaceOrderRequest) { r.DiscountCode = long(51) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			p1 := env.addProduct("widget", "10.00", 5)
			userID := uuid.New()
			env.fillCart(userID, line{p1, 1})

			req := validRequest()
			tt.mutate(&req)

			_, err := env.svc.PlaceOrder(context.Background(), userID, req)
			require.ErrorIs(t, err, fault.ErrValidation)
			assert.Equal(t, 5, env.world.stock(p1.ID))
		})
	}
}

func TestPlaceOrder_BillingAndDiscountCode(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addProduct("widget", "19.99", 5)
	userID := uuid.New()
	env.fillCart(userID, line{p1, 3})

	req := validRequest()
	req.ShippingMethod = "Express"
	req.DiscountCode = "SPRING10"
	billing := req.ShippingAddress
	billing.FullName = "Accounts Payable"
	req.BillingAddress = &billing

	o, err := env.svc.PlaceOrder(context.Background(), userID, req)
	require.NoError(t, err)

	assert.Equal(t, "Accounts Payable", o.BillingAddress.FullName)
	assert.Equal(t, "Ada Lovelace", o.ShippingAddress.FullName)
	assert.Equal(t, "SPRING10", o.DiscountCode)
	assert.True(t, o.Discount.IsZero(), "discount codes are recorded but not redeemed")
	assert.True(t, dec("59.97").Equal(o.Subtotal))
	assert.True(t, dec("6.00").Equal(o.Tax))
	assert.True(t, dec("15.00").Equal(o.ShippingCost))
	assert.True(t, o.Subtotal.Add(o.Tax).Add(o.ShippingCost).Sub(o.Discount).Equal(o.Total))
	assert.Equal(t, testNow.AddDate(0, 0, 3), o.EstimatedDelivery)
}

func TestPlaceOrder_NumbersIncreasePerDay(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addProduct("widget", "1.00", 100)
	ctx := context.Background()

	var numbers []string
	for range 3 {
		userID := uuid.New()
		env.fillCart(userID, line{p1, 1})
		o, err := env.svc.PlaceOrder(ctx, userID, validRequest())
		require.NoError(t, err)
		numbers = append(numbers, o.Number)
	}
	assert.Equal(t, []string{
		"ORD-20260301-00001",
		"ORD-20260301-00002",
		"ORD-20260301-00003",
	}, numbers)

	env.svc.now = func() time.Time { return testNow.Add(24 * time.Hour) }
	userID := uuid.New()
	env.fillCart(userID, line{p1, 1})
	o, err := env.svc.PlaceOrder(ctx, userID, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260302-00001", o.Number)

	count, err := env.svc.CountPlacedOn(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPlaceOrder_ConcurrentNeverOversells(t *testing.T) {
	const (
		stock  = 5
		buyers = 12
	)
	env := newTestEnv(t)
	p1 := env.addProduct("limited", "50.00", stock)

	users := make([]uuid.UUID, buyers)
	for i := range users {
		users[i] = uuid.New()
		env.fillCart(users[i], line{p1, 1})
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		placed  int
		numbers = make(map[string]struct{})
	)
	for _, userID := range users {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			o, err := env.svc.PlaceOrder(context.Background(), userID, validRequest())
			if err != nil {
				if !errors.Is(err, fault.ErrInsufficientStock) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			placed++
			numbers[o.Number] = struct{}{}
			mu.Unlock()
		}(userID)
	}
	wg.Wait()

	assert.Equal(t, stock, placed)
	assert.Len(t, numbers, stock)
	assert.Zero(t, env.world.stock(p1.ID))
}

func TestCancel_RestoresStock(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addProduct("widget", "10.00", 5)
	p2 := env.addProduct("gadget", "2.00", 4)
	userID := uuid.New()
	env.fillCart(userID, line{p1, 2}, line{p2, 3})
	ctx := context.Background()

	o, err := env.svc.PlaceOrder(ctx, userID, validRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, env.world.stock(p1.ID))
	assert.Equal(t, 1, env.world.stock(p2.ID))

	cancelled, err := env.svc.Cancel(ctx, o.ID, userID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, testNow, *cancelled.CancelledAt)
	assert.Equal(t, "changed my mind", cancelled.CancellationReason)
	assert.Equal(t, 5, env.world.stock(p1.ID))
	assert.Equal(t, 4, env.world.stock(p2.ID))

	stored, err := env.svc.Get(ctx, o.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)

	_, err = env.svc.Cancel(ctx, o.ID, userID, "again")
	var trErr *TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, StatusCancelled, trErr.From)
	assert.Equal(t, 5, env.world.stock(p1.ID), "second cancel must not release twice")
}

func TestCancel_DeliveredOrder(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addProduct("widget", "10.00", 5)
	userID := uuid.New()
	env.fillCart(userID, line{p1, 2})
	ctx := context.Background()

	o, err := env.svc.PlaceOrder(ctx, userID, validRequest())
	require.NoError(t, err)

	for _, st := range []string{"Processing", "shipped", "DELIVERED"} {
		o, err = env.svc.UpdateStatus(ctx, o.ID, userID, st)
		require.NoError(t, err, st)
	}
	assert.Equal(t, StatusDelivered, o.Status)
	require.NotNil(t, o.DeliveredAt)

	_, err = env.svc.Cancel(ctx, o.ID, userID, "too late")
	require.ErrorIs(t, err, fault.ErrInvalidTransition)
	assert.Equal(t, 3, env.world.stock(p1.ID))

	stored, err := env.svc.Get(ctx, o.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, stored.Status)
	assert.Nil(t, stored.CancelledAt)
}

func TestCancel_Failures(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addProduct("widget", "10.00", 5)
	owner := uuid.New()
	env.fillCart(owner, line{p1, 1})
	ctx := context.Background()

	o, err := env.svc.PlaceOrder(ctx, owner, validRequest())
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, uuid.New(), owner, "reason")
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = env.svc.Cancel(ctx, o.ID, uuid.New(), "reason")
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	_, err = env.svc.Cancel(ctx, o.ID, owner, "  ")
	assert.ErrorIs(t, err, fault.ErrValidation)

	assert.Equal(t, 4, env.world.stock(p1.ID))
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addProduct("widget", "10.00", 5)
	userID := uuid.New()
	env.fillCart(userID, line{p1, 2})
	ctx := context.Background()

	o, err := env.svc.PlaceOrder(ctx, userID, validRequest())
	require.NoError(t, err)

	_, err = env.svc.UpdateStatus(ctx, o.ID, userID, "Lost")
	require.ErrorIs(t, err, fault.ErrInvalidStatus)

	_, err = env.svc.UpdateStatus(ctx, o.ID, userID, "Shipped")
	require.ErrorIs(t, err, fault.ErrInvalidTransition)

	_, err = env.svc.UpdateStatus(ctx, o.ID, userID, "Pending")
	require.ErrorIs(t, err, fault.ErrInvalidTransition)

	_, err = env.svc.UpdateStatus(ctx, o.ID, uuid.New(), "Processing")
	require.ErrorIs(t, err, fault.ErrUnauthorized)

	o, err = env.svc.UpdateStatus(ctx, o.ID, userID, "processing")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Nil(t, o.DeliveredAt)

	o, err = env.svc.UpdateStatus(ctx, o.ID, userID, "Cancelled")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.NotNil(t, o.CancelledAt)
	assert.NotEmpty(t, o.CancellationReason)
	assert.Equal(t, 5, env.world.stock(p1.ID), "cancel through status update releases stock")
}

func TestGetAndList(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.addProduct("widget", "1.00", 100)
	userID := uuid.New()
	other := uuid.New()
	ctx := context.Background()

	var placed []*Order
	for range 3 {
		env.fillCart(userID, line{p1, 1})
		o, err := env.svc.PlaceOrder(ctx, userID, validRequest())
		require.NoError(t, err)
		placed = append(placed, o)
	}
	env.fillCart(other, line{p1, 1})
	_, err := env.svc.PlaceOrder(ctx, other, validRequest())
	require.NoError(t, err)

	got, err := env.svc.GetByNumber(ctx, placed[1].Number, userID)
	require.NoError(t, err)
	assert.Equal(t, placed[1].ID, got.ID)

	_, err = env.svc.GetByNumber(ctx, placed[1].Number, other)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	_, err = env.svc.GetByNumber(ctx, "ORD-19990101-00001", userID)
	assert.ErrorIs(t, err, fault.ErrNotFound)

	_, err = env.svc.Get(ctx, placed[0].ID, other)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	page, err := env.svc.List(ctx, userID, Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages())
	require.Len(t, page.Orders, 2)
	assert.Equal(t, placed[2].ID, page.Orders[0].ID, "newest first")

	page, err = env.svc.List(ctx, userID, Page{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	assert.Len(t, page.Orders, 3)

	_, err = env.svc.List(ctx, userID, Page{Number: 1, Size: MaxPageSize + 1})
	assert.ErrorIs(t, err, fault.ErrValidation)

	_, err = env.svc.List(ctx, userID, Page{Number: -1, Size: 10})
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestPlaceOrder_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	env := newTestEnv(t, WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))
	p1 := env.addProduct("widget", "10.00", 1)
	ctx := context.Background()

	ok := uuid.New()
	env.fillCart(ok, line{p1, 1})
	o, err := env.svc.PlaceOrder(ctx, ok, validRequest())
	require.NoError(t, err)

	late := uuid.New()
	env.fillCart(late, line{p1, 1})
	_, err = env.svc.PlaceOrder(ctx, late, validRequest())
	require.ErrorIs(t, err, fault.ErrInsufficientStock)

	_, err = env.svc.Cancel(ctx, o.ID, ok, "duplicate")
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(1), counterValue(t, rm, "shop.orders.placed"))
	assert.Equal(t, int64(1), counterValue(t, rm, "shop.checkout.rejected"))
	assert.Equal(t, int64(1), counterValue(t, rm, "shop.orders.cancelled"))
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, fmt.Sprintf("%s is not an int64 sum", name))
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestCancel_CommitFailureRecordsNothing(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	env := newTestEnv(t, WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))
	p1 := env.addProduct("widget", "10.00", 4)
	ctx := context.Background()

	userID := uuid.New()
	env.fillCart(userID, line{p1, 2})
	o, err := env.svc.PlaceOrder(ctx, userID, validRequest())
	require.NoError(t, err)

	commitErr := errors.New("connection reset during commit")
	env.world.failCommit = commitErr
	_, err = env.svc.Cancel(ctx, o.ID, userID, "duplicate")
	require.ErrorIs(t, err, commitErr)
	_, err = env.svc.UpdateStatus(ctx, o.ID, userID, "Cancelled")
	require.ErrorIs(t, err, commitErr)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Zero(t, counterValue(t, rm, "shop.orders.cancelled"))
	assert.Equal(t, 2, env.world.stock(p1.ID))

	env.world.failCommit = nil
	_, err = env.svc.UpdateStatus(ctx, o.ID, userID, "Cancelled")
	require.NoError(t, err)

	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(1), counterValue(t, rm, "shop.orders.cancelled"))
	assert.Equal(t, 4, env.world.stock(p1.ID))
}
