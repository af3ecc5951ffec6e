package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// money encodes an amount as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func optTimestamp(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	timestamp(e, *t)
}

func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(h.imageBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(p.ID.String()) })
	e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
	e.Field("sku", func(e *jx.Encoder) { e.Str(p.SKU) })
	e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
	e.Field("stock_quantity", func(e *jx.Encoder) { e.Int(p.Stock) })
	e.Field("in_stock", func(e *jx.Encoder) { e.Bool(p.InStock()) })
	e.Field("low_stock", func(e *jx.Encoder) { e.Bool(p.LowStock()) })
	e.Field("is_active", func(e *jx.Encoder) { e.Bool(p.Active) })
	e.Field("image_url", func(e *jx.Encoder) { e.Str(h.imageURL(p.ImageURL)) })
	e.ObjEnd()
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(c.ID.String()) })
	e.Field("items", func(e *jx.Encoder) {
		e.ArrStart()
		for _, item := range c.Items {
			e.ObjStart()
			e.Field("id", func(e *jx.Encoder) { e.Str(item.ID.String()) })
			e.Field("product_id", func(e *jx.Encoder) { e.Str(item.ProductID.String()) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
			e.Field("price", func(e *jx.Encoder) { money(e, item.Price) })
			e.Field("subtotal", func(e *jx.Encoder) { money(e, item.Subtotal) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	e.Field("item_count", func(e *jx.Encoder) { e.Int(len(c.Items)) })
	e.Field("subtotal", func(e *jx.Encoder) { money(e, c.Subtotal) })
	e.Field("tax", func(e *jx.Encoder) { money(e, c.Tax) })
	e.Field("shipping", func(e *jx.Encoder) { money(e, c.Shipping) })
	e.Field("discount", func(e *jx.Encoder) { money(e, c.Discount) })
	e.Field("total", func(e *jx.Encoder) { money(e, c.Total) })
	e.Field("updated_at", func(e *jx.Encoder) { timestamp(e, c.UpdatedAt) })
	e.ObjEnd()
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.ObjStart()
	e.Field("full_name", func(e *jx.Encoder) { e.Str(a.FullName) })
	e.Field("phone", func(e *jx.Encoder) { e.Str(a.Phone) })
	e.Field("line1", func(e *jx.Encoder) { e.Str(a.Line1) })
	if a.Line2 != "" {
		e.Field("line2", func(e *jx.Encoder) { e.Str(a.Line2) })
	}
	e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
	e.Field("state", func(e *jx.Encoder) { e.Str(a.State) })
	e.Field("postal_code", func(e *jx.Encoder) { e.Str(a.PostalCode) })
	e.Field("country", func(e *jx.Encoder) { e.Str(a.Country) })
	e.ObjEnd()
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(o.ID.String()) })
	e.Field("order_number", func(e *jx.Encoder) { e.Str(o.Number) })
	e.Field("status", func(e *jx.Encoder) { e.Str(o.Status.String()) })
	e.Field("payment_method", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
	e.Field("payment_status", func(e *jx.Encoder) { e.Str(o.PaymentStatus) })
	e.Field("shipping_method", func(e *jx.Encoder) { e.Str(o.ShippingMethod) })
	e.Field("shipping_address", func(e *jx.Encoder) { encodeAddress(e, o.ShippingAddress) })
	e.Field("billing_address", func(e *jx.Encoder) { encodeAddress(e, o.BillingAddress) })
	e.Field("items", func(e *jx.Encoder) {
		e.ArrStart()
		for _, item := range o.Items {
			e.ObjStart()
			e.Field("id", func(e *jx.Encoder) { e.Str(item.ID.String()) })
			e.Field("product_id", func(e *jx.Encoder) { e.Str(item.ProductID.String()) })
			e.Field("product_name", func(e *jx.Encoder) { e.Str(item.ProductName) })
			e.Field("sku", func(e *jx.Encoder) { e.Str(item.SKU) })
			e.Field("image_url", func(e *jx.Encoder) { e.Str(h.imageURL(item.ImageURL)) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
			e.Field("unit_price", func(e *jx.Encoder) { money(e, item.UnitPrice) })
			e.Field("subtotal", func(e *jx.Encoder) { money(e, item.Subtotal) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
	e.Field("tax", func(e *jx.Encoder) { money(e, o.Tax) })
	e.Field("shipping_cost", func(e *jx.Encoder) { money(e, o.ShippingCost) })
	e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
	e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
	e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
	if o.DiscountCode != "" {
		e.Field("discount_code", func(e *jx.Encoder) { e.Str(o.DiscountCode) })
	}
	if o.TrackingNumber != "" {
		e.Field("tracking_number", func(e *jx.Encoder) { e.Str(o.TrackingNumber) })
		e.Field("carrier", func(e *jx.Encoder) { e.Str(o.Carrier) })
	}
	if o.Notes != "" {
		e.Field("notes", func(e *jx.Encoder) { e.Str(o.Notes) })
	}
	e.Field("estimated_delivery", func(e *jx.Encoder) { timestamp(e, o.EstimatedDelivery) })
	e.Field("delivered_at", func(e *jx.Encoder) { optTimestamp(e, o.DeliveredAt) })
	e.Field("cancelled_at", func(e *jx.Encoder) { optTimestamp(e, o.CancelledAt) })
	if o.CancellationReason != "" {
		e.Field("cancellation_reason", func(e *jx.Encoder) { e.Str(o.CancellationReason) })
	}
	e.Field("created_at", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
	e.Field("updated_at", func(e *jx.Encoder) { timestamp(e, o.UpdatedAt) })
	e.ObjEnd()
}

func (h *Handler) encodeOrderPage(e *jx.Encoder, res *order.PageResult) {
	e.ObjStart()
	e.Field("orders", func(e *jx.Encoder) {
		e.ArrStart()
		for i := range res.Orders {
			h.encodeOrder(e, &res.Orders[i])
		}
		e.ArrEnd()
	})
	e.Field("page", func(e *jx.Encoder) { e.Int(res.Page) })
	e.Field("page_size", func(e *jx.Encoder) { e.Int(res.PageSize) })
	e.Field("total_count", func(e *jx.Encoder) { e.Int(res.TotalCount) })
	e.Field("total_pages", func(e *jx.Encoder) { e.Int(res.TotalPages()) })
	e.ObjEnd()
}

func (h *Handler) encodeProductPage(e *jx.Encoder, res *product.PageResult) {
	e.ObjStart()
	e.Field("products", func(e *jx.Encoder) {
		e.ArrStart()
		for i := range res.Products {
			h.encodeProduct(e, &res.Products[i])
		}
		e.ArrEnd()
	})
	e.Field("page", func(e *jx.Encoder) { e.Int(res.Page) })
	e.Field("page_size", func(e *jx.Encoder) { e.Int(res.PageSize) })
	e.Field("total_count", func(e *jx.Encoder) { e.Int(res.TotalCount) })
	e.Field("total_pages", func(e *jx.Encoder) { e.Int(res.TotalPages()) })
	e.ObjEnd()
}
