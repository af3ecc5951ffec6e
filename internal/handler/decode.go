package handler

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
)

const maxBodySize = 1 << 20

// decodeObject reads a JSON object body and calls field for every key.
// Malformed bodies are reported as validation errors.
func decodeObject(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return fault.Validationf("read request body: %v", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fault.Validationf("request body is required")
	}

	err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	})
	if err != nil {
		if fault.Expected(err) {
			return err
		}
		return fault.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

// optStr decodes a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeUUID(d *jx.Decoder, field string) (uuid.UUID, error) {
	s, err := d.Str()
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fault.Validationf("%s must be a UUID, got %q", field, s)
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	v := r.PathValue(name)
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fault.Validationf("%s must be a UUID, got %q", name, v)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fault.Validationf("%s must be an integer, got %q", name, v)
	}
	return n, nil
}

type addItemRequest struct {
	ProductID uuid.UUID
	Quantity  int
}

func decodeAddItem(w http.ResponseWriter, r *http.Request) (addItemRequest, error) {
	var req addItemRequest
	var hasProduct bool
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "product_id":
			hasProduct = true
			req.ProductID, err = decodeUUID(d, key)
		case "quantity":
			req.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return req, err
	}
	if !hasProduct {
		return req, fault.Validationf("product_id is required")
	}
	return req, nil
}

func decodeQuantity(w http.ResponseWriter, r *http.Request) (int, error) {
	var (
		qty int
		has bool
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		if key != "quantity" {
			return d.Skip()
		}
		has = true
		qty, err = d.Int()
		return err
	})
	if err != nil {
		return 0, err
	}
	if !has {
		return 0, fault.Validationf("quantity is required")
	}
	return qty, nil
}

// decodeStringField decodes a body holding a single string field.
func decodeStringField(w http.ResponseWriter, r *http.Request, name string) (string, error) {
	var v string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		if key != name {
			return d.Skip()
		}
		v, err = optStr(d)
		return err
	})
	return v, err
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var dst *string
		switch string(key) {
		case "full_name":
			dst = &a.FullName
		case "phone":
			dst = &a.Phone
		case "line1":
			dst = &a.Line1
		case "line2":
			dst = &a.Line2
		case "city":
			dst = &a.City
		case "state":
			dst = &a.State
		case "postal_code":
			dst = &a.PostalCode
		case "country":
			dst = &a.Country
		default:
			return d.Skip()
		}
		v, err := optStr(d)
		*dst = v
		return err
	})
	return a, err
}

func decodePlaceOrder(w http.ResponseWriter, r *http.Request) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "payment_method":
			req.PaymentMethod, err = optStr(d)
		case "shipping_method":
			req.ShippingMethod, err = optStr(d)
		case "shipping_address":
			req.ShippingAddress, err = decodeAddress(d)
		case "billing_address":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var a order.Address
			a, err = decodeAddress(d)
			req.BillingAddress = &a
		case "notes":
			req.Notes, err = optStr(d)
		case "discount_code":
			req.DiscountCode, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func queryDecimal(r *http.Request, name string) (*decimal.Decimal, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fault.Validationf("%s must be a decimal number, got %q", name, v)
	}
	return &d, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fault.Validationf("%s must be true or false, got %q", name, v)
	}
	return &b, nil
}
