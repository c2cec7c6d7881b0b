package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"hac-shop/internal/booking"
	"hac-shop/internal/booking/db"
	"hac-shop/internal/config"
	"hac-shop/internal/database"
	"hac-shop/internal/logger"
)

// Seeds the Tuesday and Wednesday drill nights from this week onwards.
func main() {
	weeks := flag.Int("weeks", booking.SeasonWeeks, "number of weeks to schedule")
	flag.Parse()

	log := logger.New(os.Stdout, nil)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	bunDB, err := database.OpenBun(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	slots := booking.WeeklyDrillNights(time.Now(), cfg.Shop.Location(), *weeks)
	created, err := booking.SeedDrillNights(ctx, db.New(bunDB, log), slots, log)
	if err != nil {
		log.Fatal("SEED", err.Error())
	}
	log.Info("SEED", fmt.Sprintf("%d drill nights created in %s", created, cfg.Shop.Timezone))
}
