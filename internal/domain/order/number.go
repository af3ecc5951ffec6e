package order

import (
	"fmt"
	"time"
)

const numberDateLayout = "20060102"

// NumberPrefix returns the order number prefix shared by all orders placed on
// the UTC calendar day of t, e.g. "ORD-20260301-".
func NumberPrefix(t time.Time) string {
	return "ORD-" + t.UTC().Format(numberDateLayout) + "-"
}

// FormatNumber builds the human-readable order number for the seq-th order
// of the day.
func FormatNumber(t time.Time, seq int) string {
	return fmt.Sprintf("%s%05d", NumberPrefix(t), seq)
}

// Day truncates t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
