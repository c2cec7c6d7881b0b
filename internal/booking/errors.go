package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"hac-shop/internal/models"
)

var (
	ErrBookingNotFound    = models.ErrBookingNotFound
	ErrDrillNightNotFound = models.ErrDrillNightNotFound
	ErrInvalidTransition  = models.ErrInvalidTransition
	ErrStaleBooking       = models.ErrStaleBooking
	ErrNotSellable        = errors.New("drill night is not on sale")
	ErrBookingLocked      = errors.New("booking is being updated by another request")
)

// Reasons returned to the browser when a checkout callback cannot be honoured.
const (
	ReasonNoSessionID        = "no session id"
	ReasonIncorrectSessionID = "incorrect session id"
	ReasonNotPaid            = "not paid"
)

// CallbackError rejects a purchased/cancel redirect coming back from checkout.
type CallbackError struct {
	Reason string
}

func (e *CallbackError) Error() string {
	return "checkout callback rejected: " + e.Reason
}

// ValidationError carries per field messages for a rejected form.
type ValidationError struct {
	Fields map[string]string
	Err    error
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func fieldError(field, message string, cause error) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}, Err: cause}
}

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int
	PublicError   string // safe to expose to clients
	InternalError string // logs only
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}
