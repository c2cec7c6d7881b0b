package models

import "strings"

// PaymentStatus is the lifecycle state of a booking.
type PaymentStatus string

const (
	StatusAwaitingCheckout PaymentStatus = "awaiting_checkout"
	StatusPaid             PaymentStatus = "paid"
	StatusRefunded         PaymentStatus = "refunded"
	StatusCancelled        PaymentStatus = "cancelled"
)

// AllStatuses lists statuses in display order.
var AllStatuses = []PaymentStatus{
	StatusAwaitingCheckout,
	StatusPaid,
	StatusRefunded,
	StatusCancelled,
}

var transitions = map[PaymentStatus][]PaymentStatus{
	StatusAwaitingCheckout: {StatusPaid, StatusCancelled},
	StatusPaid:             {StatusRefunded},
}

// ParsePaymentStatus accepts the stored value, case-insensitively.
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
	return status, status.Valid()
}

func (s PaymentStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
// REFUNDED and CANCELLED are terminal.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Label() string {
	switch s {
	case StatusAwaitingCheckout:
		return "Awaiting Checkout"
	case StatusPaid:
		return "Paid"
	case StatusRefunded:
		return "Refunded"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}
