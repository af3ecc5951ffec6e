package order

import (
	"fmt"
	"strings"

	"github.com/xenking/storefront/internal/domain/fault"
)

// Status is the lifecycle state of an order. Only the values declared below
// are valid.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// PaymentStatusPending is the payment status of every newly placed order.
const PaymentStatusPending = "Pending"

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// Statuses lists every valid status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}
}

// ParseStatus converts s to a Status, ignoring case and surrounding spaces.
func ParseStatus(s string) (Status, error) {
	v := strings.TrimSpace(s)
	for _, st := range Statuses() {
		if strings.EqualFold(v, string(st)) {
			return st, nil
		}
	}
	return "", &InvalidStatusError{Value: s}
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	for _, st := range Statuses() {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Cancellable reports whether an order in status s may be cancelled.
func (s Status) Cancellable() bool {
	return s.CanTransitionTo(StatusCancelled)
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// InvalidStatusError indicates a status value outside the closed set.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("unknown order status %q", e.Value)
}

// Unwrap makes InvalidStatusError match fault.ErrInvalidStatus.
func (e *InvalidStatusError) Unwrap() error {
	return fault.ErrInvalidStatus
}

// TransitionError indicates a status change that the state machine forbids.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// Unwrap makes TransitionError match fault.ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return fault.ErrInvalidTransition
}
