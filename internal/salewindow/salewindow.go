// Package salewindow decides when a drill night may be booked or refunded.
package salewindow

import (
	"time"

	"hac-shop/internal/models"
)

// DefaultHorizon is how far ahead drill nights are offered for sale.
const DefaultHorizon = 4 * 7 * 24 * time.Hour

type Policy struct {
	Horizon time.Duration
}

func New(horizon time.Duration) Policy {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return Policy{Horizon: horizon}
}

// IsSellable holds when the night is flagged on sale, its cutoff has not
// passed, and it starts within the horizon.
func (p Policy) IsSellable(night *models.DrillNight, now time.Time) bool {
	if night == nil || !night.OnSale {
		return false
	}
	return night.CutOffTime.After(now) && night.DateTime.Before(now.Add(p.Horizon))
}

// IsBeforeCutOff reports whether refunds are still allowed for the night.
func IsBeforeCutOff(night *models.DrillNight, now time.Time) bool {
	return night != nil && now.Before(night.CutOffTime)
}
