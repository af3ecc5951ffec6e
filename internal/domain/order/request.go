package order

import (
	"strings"
	"unicode/utf8"

	"github.com/xenking/storefront/internal/domain/fault"
)

// Input limits.
const (
	maxMethodLen       = 50
	maxNotesLen        = 1000
	maxDiscountCodeLen = 50
	maxReasonLen       = 500
	maxAddressFieldLen = 200
)

// PlaceOrderRequest holds the checkout input. The items always come from the
// user's cart.
type PlaceOrderRequest struct {
	PaymentMethod   string
	ShippingMethod  string
	ShippingAddress Address
	// BillingAddress defaults to ShippingAddress when nil.
	BillingAddress *Address
	Notes          string
	DiscountCode   string
}

// Normalize trims the textual fields of the request.
func (r PlaceOrderRequest) Normalize() PlaceOrderRequest {
	r.PaymentMethod = strings.TrimSpace(r.PaymentMethod)
	r.ShippingMethod = strings.TrimSpace(r.ShippingMethod)
	r.Notes = strings.TrimSpace(r.Notes)
	r.DiscountCode = strings.TrimSpace(r.DiscountCode)
	r.ShippingAddress = r.ShippingAddress.normalize()
	if r.BillingAddress != nil {
		billing := r.BillingAddress.normalize()
		r.BillingAddress = &billing
	}
	return r
}

// Validate checks required fields and length limits.
func (r PlaceOrderRequest) Validate() error {
	if err := required("payment method", r.PaymentMethod, maxMethodLen); err != nil {
		return err
	}
	if err := required("shipping method", r.ShippingMethod, maxMethodLen); err != nil {
		return err
	}
	if err := r.ShippingAddress.Validate("shipping address"); err != nil {
		return err
	}
	if r.BillingAddress != nil {
		if err := r.BillingAddress.Validate("billing address"); err != nil {
			return err
		}
	}
	if err := maxLen("notes", r.Notes, maxNotesLen); err != nil {
		return err
	}
	return maxLen("discount code", r.DiscountCode, maxDiscountCodeLen)
}

// Billing returns the effective billing address.
func (r PlaceOrderRequest) Billing() Address {
	if r.BillingAddress == nil || r.BillingAddress.IsZero() {
		return r.ShippingAddress
	}
	return *r.BillingAddress
}

// Validate checks that every mandatory address field is present.
func (a Address) Validate(name string) error {
	fields := []struct {
		label    string
		value    string
		optional bool
	}{
		{label: "full name", value: a.FullName},
		{label: "phone", value: a.Phone},
		{label: "line1", value: a.Line1},
		{label: "line2", value: a.Line2, optional: true},
		{label: "city", value: a.City},
		{label: "state", value: a.State},
		{label: "postal code", value: a.PostalCode},
		{label: "country", value: a.Country},
	}
	for _, f := range fields {
		label := name + " " + f.label
		if f.optional {
			if err := maxLen(label, f.value, maxAddressFieldLen); err != nil {
				return err
			}
			continue
		}
		if err := required(label, f.value, maxAddressFieldLen); err != nil {
			return err
		}
	}
	return nil
}

func (a Address) normalize() Address {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.TrimSpace(a.Country)
	return a
}

func validateReason(reason string) error {
	return required("cancellation reason", strings.TrimSpace(reason), maxReasonLen)
}

func required(field, value string, limit int) error {
	if value == "" {
		return fault.Validationf("%s is required", field)
	}
	return maxLen(field, value, limit)
}

func maxLen(field, value string, limit int) error {
	if utf8.RuneCountInString(value) > limit {
		return fault.Validationf("%s must be at most %d characters", field, limit)
	}
	return nil
}
