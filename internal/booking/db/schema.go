package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"hac-shop/internal/models"
)

// CreateSchema builds the tables from the models. Production schemas come from
// the SQL migrations; this is for SQLite backed tests and local tinkering.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().
		Model((*models.DrillNight)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create drill_nights: %w", err)
	}

	if _, err := db.NewCreateTable().
		Model((*models.Booking)(nil)).
		IfNotExists().
		ForeignKey(`("drill_night_id") REFERENCES "drill_nights" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create bookings: %w", err)
	}

	if _, err := db.NewCreateTable().
		Model((*models.CheckoutSession)(nil)).
		IfNotExists().
		ForeignKey(`("booking_id") REFERENCES "bookings" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create checkout_sessions: %w", err)
	}
	return nil
}
