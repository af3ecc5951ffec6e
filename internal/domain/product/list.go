package product

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/fault"
)

// Listing bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Sort keys accepted by ListFilter.
const (
	SortCreated = "created"
	SortName    = "name"
	SortPrice   = "price"
)

// ListFilter selects a page of the active catalog. Nil filters match
// everything; page numbers start at 1. Without a sort key the newest
// products come first.
type ListFilter struct {
	Page     int
	PageSize int

	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	// InStock keeps products with stock when true, sold out ones when false.
	InStock *bool

	SortBy     string
	Descending bool
}

// Offset returns the number of rows preceding the page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Normalize fills defaults for unset fields and validates the result.
func (f ListFilter) Normalize() (ListFilter, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.Page < 1 {
		return f, fault.Validationf("page must be at least 1, got %d", f.Page)
	}
	if f.PageSize < 1 || f.PageSize > MaxPageSize {
		return f, fault.Validationf("page size must be between 1 and %d, got %d", MaxPageSize, f.PageSize)
	}

	if f.MinPrice != nil && f.MinPrice.IsNegative() {
		return f, fault.Validationf("minPrice must not be negative, got %s", f.MinPrice)
	}
	if f.MaxPrice != nil && f.MaxPrice.IsNegative() {
		return f, fault.Validationf("maxPrice must not be negative, got %s", f.MaxPrice)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return f, fault.Validationf("minPrice %s is greater than maxPrice %s", f.MinPrice, f.MaxPrice)
	}

	switch f.SortBy = strings.ToLower(strings.TrimSpace(f.SortBy)); f.SortBy {
	case "":
		f.SortBy, f.Descending = SortCreated, true
	case SortCreated, SortName, SortPrice:
	default:
		return f, fault.Validationf("sortBy must be one of %s, %s, %s, got %q", SortCreated, SortName, SortPrice, f.SortBy)
	}
	return f, nil
}

// PageResult is one page of catalog products.
type PageResult struct {
	Products   []Product
	Page       int
	PageSize   int
	TotalCount int
}

// TotalPages returns the number of pages available at the current size.
func (r *PageResult) TotalPages() int {
	if r.PageSize == 0 {
		return 0
	}
	return (r.TotalCount + r.PageSize - 1) / r.PageSize
}
