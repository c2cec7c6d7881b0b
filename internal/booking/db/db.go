package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"hac-shop/internal/logger"
	"hac-shop/internal/models"
)

type DB struct {
	Bun *bun.DB
	Log *logger.Logger
}

func New(bunDB *bun.DB, log *logger.Logger) *DB {
	if log == nil {
		log = logger.Discard()
	}
	return &DB{Bun: bunDB, Log: log}
}

// ---------------- DRILL NIGHTS ----------------

// CreateDrillNight → insert a validated drill night, times stored as UTC
func (d *DB) CreateDrillNight(ctx context.Context, n *models.DrillNight) error {
	if err := n.Validate(); err != nil {
		return err
	}
	n.DateTime = n.DateTime.UTC()
	n.CutOffTime = n.CutOffTime.UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if _, err := d.Bun.NewInsert().Model(n).Exec(ctx); err != nil {
		return fmt.Errorf("insert drill night: %w", err)
	}
	d.Log.LogDatabase("INSERT", "drill_nights", fmt.Sprintf("drill night %d at %s", n.ID, n.DateTime.Format(time.RFC3339)))
	return nil
}

// GetDrillNight → fetch one drill night by id
func (d *DB) GetDrillNight(ctx context.Context, id int64) (*models.DrillNight, error) {
	night := new(models.DrillNight)
	err := d.Bun.NewSelect().Model(night).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDrillNightNotFound
	}
	if err != nil {
		return nil, err
	}
	return night, nil
}

// GetOrCreateDrillNight → look a night up by its exact date/time, inserting it when missing
func (d *DB) GetOrCreateDrillNight(ctx context.Context, dateTime, cutOff time.Time) (*models.DrillNight, bool, error) {
	night := new(models.DrillNight)
	err := d.Bun.NewSelect().Model(night).Where("date_time = ?", dateTime.UTC()).Limit(1).Scan(ctx)
	if err == nil {
		return night, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	night = models.NewDrillNight(dateTime, cutOff)
	if err := d.CreateDrillNight(ctx, night); err != nil {
		return nil, false, err
	}
	return night, true, nil
}

// ListSellableDrillNights → nights on sale whose cutoff is ahead and which start within horizon
func (d *DB) ListSellableDrillNights(ctx context.Context, now time.Time, horizon time.Duration) ([]models.DrillNight, error) {
	var nights []models.DrillNight
	err := d.Bun.NewSelect().
		Model(&nights).
		Where("on_sale = ?", true).
		Where("cut_off_time > ?", now.UTC()).
		Where("date_time < ?", now.Add(horizon).UTC()).
		Order("date_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return nights, nil
}

// ListDrillNights → nights starting at or after from, soonest first
func (d *DB) ListDrillNights(ctx context.Context, from time.Time, limit int) ([]models.DrillNight, error) {
	var nights []models.DrillNight
	q := d.Bun.NewSelect().
		Model(&nights).
		Where("date_time >= ?", from.UTC()).
		Order("date_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return nights, nil
}

// SetOnSale → flip the on_sale flag of one drill night
func (d *DB) SetOnSale(ctx context.Context, id int64, onSale bool) (*models.DrillNight, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.DrillNight)(nil)).
		Set("on_sale = ?", onSale).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, models.ErrDrillNightNotFound
	}
	d.Log.LogDatabase("UPDATE", "drill_nights", fmt.Sprintf("drill night %d on_sale=%t", id, onSale))
	return d.GetDrillNight(ctx, id)
}

// DeleteDrillNight → remove a night; its bookings go with it
func (d *DB) DeleteDrillNight(ctx context.Context, id int64) error {
	res, err := d.Bun.NewDelete().Model((*models.DrillNight)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrDrillNightNotFound
	}
	d.Log.LogDatabase("DELETE", "drill_nights", fmt.Sprintf("drill night %d", id))
	return nil
}

// DrillNightTotals → number of paid bookings and meals sold for one night
func (d *DB) DrillNightTotals(ctx context.Context, id int64) (paid int, meals int, err error) {
	err = d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		ColumnExpr("COUNT(*)").
		ColumnExpr("COALESCE(SUM(quantity), 0)").
		Where("drill_night_id = ?", id).
		Where("status = ?", models.StatusPaid).
		Scan(ctx, &paid, &meals)
	return paid, meals, err
}

// ---------------- BOOKINGS ----------------

// CreateBooking → insert the booking and its empty checkout session together
func (d *DB) CreateBooking(ctx context.Context, b *models.Booking, s *models.CheckoutSession) error {
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(b).Exec(ctx); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		if _, err := tx.NewInsert().Model(s).Exec(ctx); err != nil {
			return fmt.Errorf("insert checkout session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.Log.LogDatabase("INSERT", "bookings", fmt.Sprintf("booking %s for drill night %d", b.ID, b.DrillNightID))
	return nil
}

// GetBooking → fetch a booking with its drill night and checkout session
func (d *DB) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b := new(models.Booking)
	err := d.Bun.NewSelect().
		Model(b).
		Relation("DrillNight").
		Relation("CheckoutSession").
		Where("booking.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// likeEscaper makes admin search input match literally.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// ListBookings → staff listing, newest first
func (d *DB) ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	var bookings []models.Booking
	q := d.Bun.NewSelect().
		Model(&bookings).
		Relation("DrillNight").
		Relation("CheckoutSession").
		Order("booking.created_at DESC")

	if f.Status != "" {
		q = q.Where("booking.status = ?", f.Status)
	}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		like := "%" + likeEscaper.Replace(search) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(booking.name) LIKE ? ESCAPE '!'", like).
				WhereOr("LOWER(booking.email) LIKE ? ESCAPE '!'", like)
		})
	}
	if f.DrillNightID != 0 {
		q = q.Where("booking.drill_night_id = ?", f.DrillNightID)
	}
	if len(f.IDs) > 0 {
		q = q.Where("booking.id IN (?)", bun.In(f.IDs))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return bookings, nil
}

// UpdateBookingStatus → move b to status `to` if the transition is allowed and
// nobody else changed the row since b was read
func (d *DB) UpdateBookingStatus(ctx context.Context, b *models.Booking, to models.PaymentStatus) error {
	if !b.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, b.Status, to)
	}

	now := time.Now().UTC()
	res, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", to).
		Set("version = version + 1").
		Set("updated_at = ?", now).
		Where("id = ?", b.ID).
		Where("version = ?", b.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrStaleBooking
	}

	d.Log.LogDatabase("UPDATE", "bookings", fmt.Sprintf("booking %s %s -> %s", b.ID, b.Status, to))
	b.Status = to
	b.Version++
	b.UpdatedAt = now
	return nil
}

// ---------------- CHECKOUT SESSIONS ----------------

// SaveCheckoutSession → store the gateway id and URL of a generated session
func (d *DB) SaveCheckoutSession(ctx context.Context, s *models.CheckoutSession) error {
	_, err := d.Bun.NewUpdate().
		Model(s).
		Column("session_id", "checkout_url").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update checkout session: %w", err)
	}
	d.Log.LogDatabase("UPDATE", "checkout_sessions", fmt.Sprintf("booking %s session %s", s.BookingID, s.SessionID))
	return nil
}

// GetBookingBySessionID → resolve a gateway session id back to its booking
func (d *DB) GetBookingBySessionID(ctx context.Context, sessionID string) (*models.Booking, error) {
	var bookingID uuid.UUID
	err := d.Bun.NewSelect().
		Model((*models.CheckoutSession)(nil)).
		Column("booking_id").
		Where("session_id = ?", sessionID).
		Limit(1).
		Scan(ctx, &bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.GetBooking(ctx, bookingID)
}
