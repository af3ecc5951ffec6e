// Package catalog decodes product records from seed and import files.
//
// A record is a JSON object:
//
//	{"sku": "TSHIRT-BLK-M", "name": "T-Shirt", "price": "19.99",
//	 "stock_quantity": 40, "low_stock_threshold": 5,
//	 "is_active": true, "image_url": "/img/tshirt.png"}
//
// The id field is optional. Records without one get a stable id derived
// from the SKU, so re-importing the same file updates rows in place.
package catalog

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// Namespace seeds the SKU-derived product ids.
var Namespace = uuid.MustParse("6f1c8e62-3f7a-4c1e-9a51-2b9d0c4e7a10")

// IDForSKU returns the id assigned to records that carry none.
func IDForSKU(sku string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(sku))
}

// Decode reads one product record from d.
func Decode(d *jx.Decoder) (product.Product, error) {
	p := product.Product{Active: true}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			var s string
			if s, err = d.Str(); err != nil {
				return err
			}
			if p.ID, err = uuid.Parse(s); err != nil {
				return errors.Wrapf(err, "parse id %q", s)
			}
		case "sku":
			p.SKU, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "stock_quantity":
			p.Stock, err = d.Int()
		case "low_stock_threshold":
			p.LowStockThreshold, err = d.Int()
		case "is_active":
			p.Active, err = d.Bool()
		case "image_url":
			p.ImageURL, err = d.Str()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return product.Product{}, err
	}

	p.SKU = strings.TrimSpace(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	if err := Validate(&p); err != nil {
		return product.Product{}, err
	}
	if p.ID == uuid.Nil {
		p.ID = IDForSKU(p.SKU)
	}
	if p.LowStockThreshold == 0 {
		p.LowStockThreshold = product.DefaultLowStockThreshold
	}
	return p, nil
}

// DecodeLine decodes a single JSON Lines record.
func DecodeLine(line []byte) (product.Product, error) {
	return Decode(jx.DecodeBytes(line))
}

// DecodeArray decodes a JSON array of records.
func DecodeArray(data []byte) ([]product.Product, error) {
	var products []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p, err := Decode(d)
		if err != nil {
			return errors.Wrapf(err, "record %d", len(products))
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// Validate checks the fields every stored product must have.
func Validate(p *product.Product) error {
	switch {
	case p.SKU == "":
		return errors.New("sku is required")
	case p.Name == "":
		return errors.Errorf("%s: name is required", p.SKU)
	case p.Price.IsNegative():
		return errors.Errorf("%s: price must not be negative, got %s", p.SKU, p.Price)
	case p.Stock < 0:
		return errors.Errorf("%s: stock_quantity must not be negative, got %d", p.SKU, p.Stock)
	case p.LowStockThreshold < 0:
		return errors.Errorf("%s: low_stock_threshold must not be negative, got %d", p.SKU, p.LowStockThreshold)
	}
	return nil
}

// decodeDecimal accepts both "19.99" and 19.99.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	}
	return decimal.NewFromString(raw)
}
