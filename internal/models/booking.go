package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	MaxNameLength = 512
	MinQuantity   = 1
	MaxQuantity   = 5
)

// Booking is one customer's purchase of meals for a drill night.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID           uuid.UUID     `bun:"id,pk,type:uuid" json:"id"`
	DrillNightID int64         `bun:"drill_night_id,notnull" json:"drill_night_id"`
	Name         string        `bun:"name,notnull" json:"name"`
	Email        string        `bun:"email,notnull" json:"email"`
	Quantity     int           `bun:"quantity,notnull" json:"quantity"`
	DietaryNotes string        `bun:"dietary_notes,nullzero" json:"dietary_notes,omitempty"`
	Status       PaymentStatus `bun:"status,notnull" json:"status"`
	Version      int64         `bun:"version,notnull" json:"-"`
	CreatedAt    time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time     `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	DrillNight      *DrillNight      `bun:"rel:belongs-to,join:drill_night_id=id" json:"drill_night,omitempty"`
	CheckoutSession *CheckoutSession `bun:"rel:has-one,join:id=booking_id" json:"-"`
}

// NewBooking prepares an unsaved booking awaiting checkout.
func NewBooking(drillNightID int64, name, email string, quantity int, dietaryNotes string) *Booking {
	now := time.Now().UTC()
	return &Booking{
		ID:           uuid.New(),
		DrillNightID: drillNightID,
		Name:         name,
		Email:        email,
		Quantity:     quantity,
		DietaryNotes: dietaryNotes,
		Status:       StatusAwaitingCheckout,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Label renders "<name> - <night>" with the night shown in loc.
func (b *Booking) Label(loc *time.Location) string {
	if b.DrillNight == nil {
		return b.Name
	}
	return fmt.Sprintf("%s - %s", b.Name, b.DrillNight.Label(loc))
}

// AbsoluteURL is the path of the booking detail page.
func (b *Booking) AbsoluteURL() string {
	return fmt.Sprintf("/supper/%s/", b.ID)
}

// CheckoutSession is the one-to-one payment session record of a booking.
type CheckoutSession struct {
	bun.BaseModel `bun:"table:checkout_sessions"`

	ID          uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	BookingID   uuid.UUID `bun:"booking_id,type:uuid,notnull,unique" json:"booking_id"`
	SessionID   string    `bun:"session_id,nullzero" json:"session_id,omitempty"`
	CheckoutURL string    `bun:"checkout_url,nullzero" json:"checkout_url,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

func NewCheckoutSession(bookingID uuid.UUID) *CheckoutSession {
	return &CheckoutSession{
		ID:        uuid.New(),
		BookingID: bookingID,
		CreatedAt: time.Now().UTC(),
	}
}

// Generated reports whether a gateway session has already been stored.
func (s *CheckoutSession) Generated() bool {
	return s.SessionID != "" && s.CheckoutURL != ""
}

// BookingFilter narrows the staff booking list.
type BookingFilter struct {
	Status       PaymentStatus
	Search       string
	DrillNightID int64
	IDs          []uuid.UUID
	Limit        int
}
