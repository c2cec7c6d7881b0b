// Package report builds the kitchen sheet staff print for one drill night.
package report

import (
	"context"
	"sort"
	"time"

	"hac-shop/internal/models"
)

type Store interface {
	GetDrillNight(ctx context.Context, id int64) (*models.DrillNight, error)
	ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error)
}

// Diner is one paid booking as the kitchen needs it.
type Diner struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Quantity     int    `json:"quantity"`
	DietaryNotes string `json:"dietary_notes,omitempty"`
}

type DrillNightReport struct {
	DrillNightID int64                        `json:"drill_night_id"`
	DrillNight   string                       `json:"drill_night"`
	DateTime     time.Time                    `json:"date_time"`
	CutOffTime   time.Time                    `json:"cut_off_time"`
	OnSale       bool                         `json:"on_sale"`
	Counts       map[models.PaymentStatus]int `json:"counts"`
	PaidBookings int                          `json:"paid_bookings"`
	MealsSold    int                          `json:"meals_sold"`
	Diners       []Diner                      `json:"diners"`
	DietaryNotes []string                     `json:"dietary_notes"`
}

type Service struct {
	store    Store
	location *time.Location
}

func NewService(store Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, location: loc}
}

func (s *Service) DrillNight(ctx context.Context, id int64) (*DrillNightReport, error) {
	night, err := s.store.GetDrillNight(ctx, id)
	if err != nil {
		return nil, err
	}
	bookings, err := s.store.ListBookings(ctx, models.BookingFilter{DrillNightID: id})
	if err != nil {
		return nil, err
	}
	return Build(night, bookings, s.location), nil
}

// Build summarises bookings of night. Only PAID bookings count as meals.
func Build(night *models.DrillNight, bookings []models.Booking, loc *time.Location) *DrillNightReport {
	r := &DrillNightReport{
		DrillNightID: night.ID,
		DrillNight:   night.Label(loc),
		DateTime:     night.DateTime.In(loc),
		CutOffTime:   night.CutOffTime.In(loc),
		OnSale:       night.OnSale,
		Counts:       make(map[models.PaymentStatus]int, len(models.AllStatuses)),
		Diners:       []Diner{},
		DietaryNotes: []string{},
	}
	for _, status := range models.AllStatuses {
		r.Counts[status] = 0
	}

	for _, b := range bookings {
		r.Counts[b.Status]++
		if b.Status != models.StatusPaid {
			continue
		}
		r.PaidBookings++
		r.MealsSold += b.Quantity
		r.Diners = append(r.Diners, Diner{
			Name:         b.Name,
			Email:        b.Email,
			Quantity:     b.Quantity,
			DietaryNotes: b.DietaryNotes,
		})
		if b.DietaryNotes != "" {
			r.DietaryNotes = append(r.DietaryNotes, b.Name+": "+b.DietaryNotes)
		}
	}

	sort.Slice(r.Diners, func(i, j int) bool { return r.Diners[i].Name < r.Diners[j].Name })
	sort.Strings(r.DietaryNotes)
	return r
}
