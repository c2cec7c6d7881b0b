package models

import "errors"

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrDrillNightNotFound = errors.New("drill night not found")
	ErrInvalidTransition  = errors.New("invalid booking status transition")
	ErrStaleBooking       = errors.New("booking was modified concurrently")
	ErrInvalidDrillNight  = errors.New("drill night needs a date/time and a cut off time")
	ErrInvalidCutOff      = errors.New("cut off time must be before the drill night")
)
