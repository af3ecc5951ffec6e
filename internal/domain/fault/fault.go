// Package fault defines the expected, caller-recoverable failure kinds shared
// by the cart, inventory and order domains.
//
// Domain packages return typed errors that unwrap to one of the sentinels
// below, so callers can either match the kind with errors.Is or extract the
// details with errors.As. Anything that does not match a sentinel is a fault
// of the infrastructure and must be propagated unchanged.
package fault

import (
	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an entity id cannot be resolved.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the actor does not own the resource.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidTransition is returned when a status change is not permitted
	// from the current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInsufficientStock is returned when a requested quantity exceeds the
	// available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductUnavailable is returned when a product is inactive.
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrEmptyCart is returned when checkout is attempted with no items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidStatus is returned when a status value is not recognized.
	ErrInvalidStatus = errors.New("invalid status")
)

// Kind classifies an error by the sentinel it wraps.
type Kind int

// Known kinds. KindUnknown means the error is not an expected domain failure.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindInvalidTransition
	KindInsufficientStock
	KindProductUnavailable
	KindEmptyCart
	KindValidation
	KindInvalidStatus
)

var kinds = []struct {
	kind Kind
	err  error
	name string
}{
	{KindNotFound, ErrNotFound, "not_found"},
	{KindUnauthorized, ErrUnauthorized, "unauthorized"},
	{KindInvalidTransition, ErrInvalidTransition, "invalid_transition"},
	{KindInsufficientStock, ErrInsufficientStock, "insufficient_stock"},
	{KindProductUnavailable, ErrProductUnavailable, "product_unavailable"},
	{KindEmptyCart, ErrEmptyCart, "empty_cart"},
	{KindValidation, ErrValidation, "validation"},
	{KindInvalidStatus, ErrInvalidStatus, "invalid_status"},
}

// String returns a stable snake_case name, suitable for metric attributes.
func (k Kind) String() string {
	for _, e := range kinds {
		if e.kind == k {
			return e.name
		}
	}
	return "unknown"
}

// KindOf reports the failure kind of err. It returns KindUnknown for nil and
// for errors that do not wrap any sentinel of this package.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, e := range kinds {
		if errors.Is(err, e.err) {
			return e.kind
		}
	}
	return KindUnknown
}

// Expected reports whether err is one of the domain failure kinds.
func Expected(err error) bool {
	return KindOf(err) != KindUnknown
}

// Validationf returns an error of kind KindValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: errors.Errorf(format, args...).Error()}
}

// ValidationError describes malformed input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Unwrap makes ValidationError match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
