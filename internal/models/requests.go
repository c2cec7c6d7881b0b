package models

import (
	"time"

	"github.com/google/uuid"
)

// CreateBookingRequest is the booking form. It binds from JSON or form fields.
type CreateBookingRequest struct {
	DrillNightID int64  `json:"drill_night" form:"drill_night" validate:"required,gt=0"`
	Name         string `json:"name" form:"name" validate:"required,max=512"`
	Email        string `json:"email" form:"email" validate:"required,email"`
	Quantity     int    `json:"quantity" form:"quantity" validate:"required,min=1,max=5"`
	DietaryNotes string `json:"dietary_notes" form:"dietary_notes" validate:"max=2000"`
}

type RefundRequest struct {
	ConfirmEmail string `json:"confirm_email" form:"confirm_email" validate:"required,email"`
}

type BulkRefundRequest struct {
	IDs []uuid.UUID `json:"ids" validate:"required,min=1"`
}

type CreateDrillNightRequest struct {
	DateTime   time.Time `json:"date_time" validate:"required"`
	CutOffTime time.Time `json:"cut_off_time" validate:"required"`
	OnSale     *bool     `json:"on_sale,omitempty"`
}

type UpdateDrillNightRequest struct {
	OnSale *bool `json:"on_sale" validate:"required"`
}

// RefundResult is the outcome for one booking of a bulk refund.
type RefundResult struct {
	BookingID uuid.UUID     `json:"booking_id"`
	Status    PaymentStatus `json:"status,omitempty"`
	Refunded  bool          `json:"refunded"`
	Error     string        `json:"error,omitempty"`
}

// BookingView is the detail representation served to customers.
type BookingView struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	Quantity     int           `json:"quantity"`
	DietaryNotes string        `json:"dietary_notes,omitempty"`
	Status       PaymentStatus `json:"status"`
	StatusLabel  string        `json:"status_label"`
	DrillNight   string        `json:"drill_night"`
	Refundable   bool          `json:"refundable"`
	URL          string        `json:"url"`
}
