package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/product"
)

// ErrNotOwner is returned when a user acts on another user's order.
var ErrNotOwner = errors.Wrap(fault.ErrUnauthorized, "order belongs to another user")

// statusUpdateReason is recorded when an order is cancelled through
// UpdateStatus rather than Cancel.
const statusUpdateReason = "Cancelled by status update"

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// Carts is the cart access needed by checkout.
type Carts interface {
	GetByOwner(ctx context.Context, owner cart.Owner) (*cart.Cart, error)
	Clear(ctx context.Context, cartID uuid.UUID) error
}

// Inventory reserves and releases product stock.
type Inventory interface {
	Reserve(ctx context.Context, productID uuid.UUID, qty int) error
	Release(ctx context.Context, productID uuid.UUID, qty int) error
}

// Catalog is the batch product lookup used at checkout.
type Catalog interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]product.Product, error)
}

// Option configures a Service.
type Option func(*options)

type options struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	currency       string
}

// WithMeterProvider sets the meter provider for order metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithTracerProvider sets the tracer provider for order spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithCurrency sets the ISO currency code stamped on new orders.
func WithCurrency(code string) Option {
	return func(o *options) {
		if code != "" {
			o.currency = code
		}
	}
}

// Service runs checkout, cancellation and status changes. Every mutating
// operation executes inside one transaction, so a failure at any step leaves
// no partial order, reservation or cart change behind.
type Service struct {
	orders    Repository
	carts     Carts
	products  Catalog
	inventory Inventory
	tx        Transactor
	currency  string
	now       func() time.Time

	tracer    trace.Tracer
	placed    metric.Int64Counter
	cancelled metric.Int64Counter
	rejected  metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	carts Carts,
	products Catalog,
	inventory Inventory,
	tx Transactor,
	opts ...Option,
) (*Service, error) {
	o := options{
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
		currency:       "USD",
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		orders:    orders,
		carts:     carts,
		products:  products,
		inventory: inventory,
		tx:        tx,
		currency:  o.currency,
		now:       time.Now,
		tracer:    o.tracerProvider.Tracer(instrumentationName),
	}

	meter := o.meterProvider.Meter(instrumentationName)
	var err error
	if s.placed, err = meter.Int64Counter("shop.orders.placed",
		metric.WithDescription("Number of orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "create placed counter")
	}
	if s.cancelled, err = meter.Int64Counter("shop.orders.cancelled",
		metric.WithDescription("Number of orders cancelled"),
	); err != nil {
		return nil, errors.Wrap(err, "create cancelled counter")
	}
	if s.rejected, err = meter.Int64Counter("shop.checkout.rejected",
		metric.WithDescription("Number of checkouts rejected by kind"),
	); err != nil {
		return nil, errors.Wrap(err, "create rejected counter")
	}
	return s, nil
}

// PlaceOrder converts the user's cart into an order: it validates every line
// against the catalog, prices the order, persists it with item snapshots,
// reserves stock per line and empties the cart.
func (s *Service) PlaceOrder(ctx context.Context, userID uuid.UUID, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer func() { endSpan(span, rerr) }()

	if userID == uuid.Nil {
		return nil, fault.Validationf("user id is required")
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var o *Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.placeOrder(ctx, userID, req)
		return err
	})
	if err != nil {
		if kind := fault.KindOf(err); kind != fault.KindUnknown {
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
		}
		return nil, err
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("shipping_method", req.ShippingMethod)))
	span.SetAttributes(attribute.String("order.number", o.Number))
	zctx.From(ctx).Info("Order placed",
		zap.Stringer("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.Stringer("user_id", userID),
		zap.Int("items", len(o.Items)),
		zap.Stringer("total", o.Total),
	)
	return o, nil
}

func (s *Service) placeOrder(ctx context.Context, userID uuid.UUID, req PlaceOrderRequest) (*Order, error) {
	c, err := s.carts.GetByOwner(ctx, cart.UserOwner(userID))
	switch {
	case errors.Is(err, cart.ErrNotFound):
		return nil, fault.ErrEmptyCart
	case err != nil:
		return nil, errors.Wrap(err, "get cart")
	case c.IsEmpty():
		return nil, fault.ErrEmptyCart
	}

	ids := make([]uuid.UUID, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[uuid.UUID]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	// Validate every line before any write so a rejection names the first
	// offending product.
	subtotal := decimal.Zero
	for _, item := range c.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, &product.NotFoundError{ProductID: item.ProductID}
		}
		if err := p.CheckAvailable(item.Quantity); err != nil {
			return nil, err
		}
		subtotal = subtotal.Add(item.Subtotal)
	}

	now := s.now().UTC()
	seq, err := s.orders.NextSequence(ctx, Day(now))
	if err != nil {
		return nil, errors.Wrap(err, "allocate order number")
	}

	totals := CalculateTotals(subtotal, req.ShippingMethod)
	o := &Order{
		ID:                uuid.New(),
		Number:            FormatNumber(now, seq),
		UserID:            userID,
		Status:            StatusPending,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     PaymentStatusPending,
		ShippingMethod:    req.ShippingMethod,
		ShippingAddress:   req.ShippingAddress,
		BillingAddress:    req.Billing(),
		Subtotal:          totals.Subtotal,
		Tax:               totals.Tax,
		ShippingCost:      totals.Shipping,
		Discount:          totals.Discount,
		Total:             totals.Total,
		Currency:          s.currency,
		DiscountCode:      req.DiscountCode,
		Notes:             req.Notes,
		EstimatedDelivery: EstimateDelivery(req.ShippingMethod, now),
		CreatedAt:         now,
		UpdatedAt:         now,
		Items:             make([]LineItem, 0, len(c.Items)),
	}
	for _, item := range c.Items {
		p := byID[item.ProductID]
		o.Items = append(o.Items, LineItem{
			ID:          uuid.New(),
			OrderID:     o.ID,
			ProductID:   p.ID,
			ProductName: p.Name,
			SKU:         p.SKU,
			ImageURL:    p.ImageURL,
			Quantity:    item.Quantity,
			UnitPrice:   item.Price,
			Subtotal:    item.Subtotal,
			CreatedAt:   now,
		})
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	for _, item := range o.Items {
		if err := s.inventory.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			return nil, err
		}
	}
	if err := s.carts.Clear(ctx, c.ID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	return o, nil
}

// Cancel cancels a Pending or Processing order owned by userID and returns
// its items to stock.
func (s *Service) Cancel(ctx context.Context, orderID, userID uuid.UUID, reason string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel",
		trace.WithAttributes(attribute.String("order.id", orderID.String())),
	)
	defer func() { endSpan(span, rerr) }()

	if err := validateReason(reason); err != nil {
		return nil, err
	}

	var o *Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.lockOwned(ctx, orderID, userID); err != nil {
			return err
		}
		return s.cancel(ctx, o, reason)
	})
	if err != nil {
		return nil, err
	}
	s.recordCancelled(ctx, o)
	return o, nil
}

// UpdateStatus moves the order to status if the state machine allows it.
// Cancelling through this path also releases the reserved stock.
func (s *Service) UpdateStatus(ctx context.Context, orderID, userID uuid.UUID, status string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID.String()),
			attribute.String("order.status", status),
		),
	)
	defer func() { endSpan(span, rerr) }()

	next, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	var o *Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.lockOwned(ctx, orderID, userID); err != nil {
			return err
		}
		if next == StatusCancelled {
			return s.cancel(ctx, o, statusUpdateReason)
		}
		return s.transition(ctx, o, next)
	})
	if err != nil {
		return nil, err
	}
	if next == StatusCancelled {
		s.recordCancelled(ctx, o)
	}
	return o, nil
}

// Get returns the order if it belongs to userID.
func (s *Service) Get(ctx context.Context, orderID, userID uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.OwnedBy(userID) {
		return nil, ErrNotOwner
	}
	return o, nil
}

// GetByNumber returns the order with the given number if it belongs to
// userID.
func (s *Service) GetByNumber(ctx context.Context, number string, userID uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !o.OwnedBy(userID) {
		return nil, ErrNotOwner
	}
	return o, nil
}

// List returns a page of the user's orders, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, page Page) (*PageResult, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	return s.orders.ListByUser(ctx, userID, page)
}

// CountPlacedOn returns the number of orders placed on the UTC day of t.
func (s *Service) CountPlacedOn(ctx context.Context, t time.Time) (int, error) {
	return s.orders.CountWithNumberPrefix(ctx, NumberPrefix(t))
}

func (s *Service) lockOwned(ctx context.Context, orderID, userID uuid.UUID) (*Order, error) {
	o, err := s.orders.Lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.OwnedBy(userID) {
		return nil, ErrNotOwner
	}
	return o, nil
}

func (s *Service) cancel(ctx context.Context, o *Order, reason string) error {
	if !o.Status.Cancellable() {
		return &TransitionError{From: o.Status, To: StatusCancelled}
	}
	for _, item := range o.Items {
		if err := s.inventory.Release(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	now := s.now().UTC()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.CancellationReason = reason
	o.UpdatedAt = now
	if err := s.orders.UpdateStatus(ctx, o); err != nil {
		return errors.Wrap(err, "update order status")
	}
	return nil
}

// recordCancelled runs after the cancelling transaction has committed.
func (s *Service) recordCancelled(ctx context.Context, o *Order) {
	s.cancelled.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled",
		zap.Stringer("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("reason", o.CancellationReason),
		zap.Int("items", len(o.Items)),
	)
}

func (s *Service) transition(ctx context.Context, o *Order, next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return &TransitionError{From: o.Status, To: next}
	}

	now := s.now().UTC()
	prev := o.Status
	o.Status = next
	o.UpdatedAt = now
	if next == StatusDelivered {
		o.DeliveredAt = &now
	}
	if err := s.orders.UpdateStatus(ctx, o); err != nil {
		return errors.Wrap(err, "update order status")
	}

	zctx.From(ctx).Info("Order status changed",
		zap.Stringer("order_id", o.ID),
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	)
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !fault.Expected(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
