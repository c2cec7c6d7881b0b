package booking

import (
	"context"
	"fmt"
	"time"

	"hac-shop/internal/logger"
	"hac-shop/internal/models"
)

const (
	drillHour   = 21
	cutOffHour  = 18
	SeasonWeeks = 52 * 3
)

// Slot is one drill night to be scheduled.
type Slot struct {
	DateTime   time.Time
	CutOffTime time.Time
}

// WeeklyDrillNights lays out the Tuesday and Wednesday drill nights of weeks
// consecutive weeks, starting from the Monday on or before now.
func WeeklyDrillNights(now time.Time, loc *time.Location, weeks int) []Slot {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc)
	back := (int(today.Weekday()) + 6) % 7
	monday := time.Date(today.Year(), today.Month(), today.Day()-back, 0, 0, 0, 0, loc)

	slots := make([]Slot, 0, weeks*2)
	for w := 0; w < weeks; w++ {
		for _, offset := range []int{1, 2} {
			y, m, d := monday.AddDate(0, 0, w*7+offset).Date()
			slots = append(slots, Slot{
				DateTime:   time.Date(y, m, d, drillHour, 0, 0, 0, loc),
				CutOffTime: time.Date(y, m, d, cutOffHour, 0, 0, 0, loc),
			})
		}
	}
	return slots
}

type NightCreator interface {
	GetOrCreateDrillNight(ctx context.Context, dateTime, cutOff time.Time) (*models.DrillNight, bool, error)
}

// SeedDrillNights stores slots that do not exist yet and returns how many
// were created.
func SeedDrillNights(ctx context.Context, store NightCreator, slots []Slot, log *logger.Logger) (int, error) {
	if log == nil {
		log = logger.Discard()
	}
	created := 0
	for _, slot := range slots {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		night, isNew, err := store.GetOrCreateDrillNight(ctx, slot.DateTime, slot.CutOffTime)
		if err != nil {
			return created, fmt.Errorf("seed drill night %s: %w", slot.DateTime.Format(time.RFC3339), err)
		}
		if isNew {
			created++
			log.Debug("SEED", fmt.Sprintf("Created drill night %d (%s)", night.ID, night.Label(slot.DateTime.Location())))
		}
	}
	log.Info("SEED", fmt.Sprintf("Seeded %d new drill nights out of %d slots", created, len(slots)))
	return created, nil
}
