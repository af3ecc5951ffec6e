// Package handler exposes the storefront over a JSON HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// Products is the read side of the catalog.
type Products interface {
	List(ctx context.Context, f product.ListFilter) (*product.PageResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error)
}

// Carts is implemented by *cart.Service.
type Carts interface {
	GetCart(ctx context.Context, owner cart.Owner) (*cart.Cart, error)
	AddItem(ctx context.Context, owner cart.Owner, productID uuid.UUID, quantity int) (*cart.Cart, error)
	UpdateItemQuantity(ctx context.Context, owner cart.Owner, itemID uuid.UUID, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, owner cart.Owner, itemID uuid.UUID) (*cart.Cart, error)
	Clear(ctx context.Context, owner cart.Owner) (*cart.Cart, error)
}

// Orders is implemented by *order.Service.
type Orders interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, req order.PlaceOrderRequest) (*order.Order, error)
	Cancel(ctx context.Context, orderID, userID uuid.UUID, reason string) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID, userID uuid.UUID, status string) (*order.Order, error)
	Get(ctx context.Context, orderID, userID uuid.UUID) (*order.Order, error)
	GetByNumber(ctx context.Context, number string, userID uuid.UUID) (*order.Order, error)
	List(ctx context.Context, userID uuid.UUID, page order.Page) (*order.PageResult, error)
}

// Authenticator resolves an API key to its owner.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

var (
	_ Carts         = (*cart.Service)(nil)
	_ Orders        = (*order.Service)(nil)
	_ Authenticator = (*auth.Authenticator)(nil)
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product and order
	// item responses. Absolute URLs are returned unchanged.
	ImageBaseURL string
}

// Handler serves the /api routes.
type Handler struct {
	products     Products
	carts        Carts
	orders       Orders
	auth         Authenticator
	imageBaseURL string
}

// New constructs a Handler.
func New(cfg Config, products Products, carts Carts, orders Orders, authn Authenticator) *Handler {
	return &Handler{
		products:     products,
		carts:        carts,
		orders:       orders,
		auth:         authn,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.HandleFunc("GET /api/cart", h.withOwner(h.getCart))
	mux.HandleFunc("DELETE /api/cart", h.withOwner(h.clearCart))
	mux.HandleFunc("POST /api/cart/items", h.withOwner(h.addCartItem))
	mux.HandleFunc("PUT /api/cart/items/{itemId}", h.withOwner(h.updateCartItem))
	mux.HandleFunc("DELETE /api/cart/items/{itemId}", h.withOwner(h.removeCartItem))

	mux.HandleFunc("POST /api/orders", h.withUser(h.placeOrder))
	mux.HandleFunc("GET /api/orders", h.withUser(h.listOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.withUser(h.getOrder))
	mux.HandleFunc("GET /api/orders/number/{number}", h.withUser(h.getOrderByNumber))
	mux.HandleFunc("PUT /api/orders/{id}/cancel", h.withUser(h.cancelOrder))
	mux.HandleFunc("PUT /api/orders/{id}/status", h.withUser(h.updateOrderStatus))
}
