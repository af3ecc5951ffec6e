package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Shipping methods with a known price and delivery estimate. Any other
// method ships for free with the standard estimate.
const (
	ShippingStandard  = "standard"
	ShippingExpress   = "express"
	ShippingOvernight = "overnight"
)

var taxRate = decimal.RequireFromString("0.10")

type shippingRate struct {
	cost decimal.Decimal
	days int
}

var shippingRates = map[string]shippingRate{
	ShippingStandard:  {cost: decimal.RequireFromString("5.00"), days: 7},
	ShippingExpress:   {cost: decimal.RequireFromString("15.00"), days: 3},
	ShippingOvernight: {cost: decimal.RequireFromString("25.00"), days: 1},
}

const defaultDeliveryDays = 7

// Totals holds the monetary summary of an order.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// ShippingCost returns the flat shipping price for the method.
func ShippingCost(method string) decimal.Decimal {
	if r, ok := shippingRates[strings.ToLower(strings.TrimSpace(method))]; ok {
		return r.cost
	}
	return decimal.Zero
}

// EstimateDelivery returns when an order placed at placedAt should arrive.
func EstimateDelivery(method string, placedAt time.Time) time.Time {
	days := defaultDeliveryDays
	if r, ok := shippingRates[strings.ToLower(strings.TrimSpace(method))]; ok {
		days = r.days
	}
	return placedAt.AddDate(0, 0, days)
}

// Tax returns the flat-rate tax on subtotal rounded to cents.
func Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(taxRate).Round(2)
}

// CalculateTotals prices an order with the given line subtotal. Discount
// codes are recorded on the order but never reduce the price.
func CalculateTotals(subtotal decimal.Decimal, shippingMethod string) Totals {
	subtotal = subtotal.Round(2)
	t := Totals{
		Subtotal: subtotal,
		Tax:      Tax(subtotal),
		Shipping: ShippingCost(shippingMethod),
		Discount: decimal.Zero,
	}
	t.Total = t.Subtotal.Add(t.Tax).Add(t.Shipping).Sub(t.Discount)
	return t
}
