package models

import (
	"time"

	"github.com/uptrace/bun"
)

// DrillNightLayout renders a drill night as "Mon 22 Feb (19:00)".
const DrillNightLayout = "Mon 02 Jan (15:04)"

type DrillNight struct {
	bun.BaseModel `bun:"table:drill_nights"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	DateTime   time.Time `bun:"date_time,notnull" json:"date_time"`
	CutOffTime time.Time `bun:"cut_off_time,notnull" json:"cut_off_time"`
	OnSale     bool      `bun:"on_sale,notnull" json:"on_sale"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// NewDrillNight returns a night that is on sale, matching the column default.
func NewDrillNight(dateTime, cutOff time.Time) *DrillNight {
	return &DrillNight{
		DateTime:   dateTime,
		CutOffTime: cutOff,
		OnSale:     true,
	}
}

// Validate rejects a cutoff that is not strictly before the night itself.
func (n *DrillNight) Validate() error {
	if n.DateTime.IsZero() || n.CutOffTime.IsZero() {
		return ErrInvalidDrillNight
	}
	if !n.CutOffTime.Before(n.DateTime) {
		return ErrInvalidCutOff
	}
	return nil
}

// Label formats the night in loc.
func (n *DrillNight) Label(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return n.DateTime.In(loc).Format(DrillNightLayout)
}

// DrillNightSummary is a drill night with its paid booking totals.
type DrillNightSummary struct {
	DrillNight
	PaidBookings int `json:"paid_bookings"`
	MealsSold    int `json:"meals_sold"`
}
