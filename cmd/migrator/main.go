package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"hac-shop/internal/config"
	"hac-shop/internal/database"
	"hac-shop/internal/database/migrations"
	"hac-shop/internal/logger"
)

const (
	migrationUp      = "up"
	migrationDown    = "down"
	migrationVersion = "version"
	migrationTo      = "to"
)

func main() {
	var migrationType, migrationsPath string
	var target uint
	flag.StringVar(&migrationType, "migration-type", migrationUp, "up, down, version or to")
	flag.StringVar(&migrationsPath, "migrations-path", "", "path to migrations (defaults to DB_MIGRATIONS_DIR)")
	flag.UintVar(&target, "version", 0, "target version for -migration-type=to")
	flag.Parse()

	log := logger.New(os.Stdout, nil)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	if migrationsPath == "" {
		migrationsPath = cfg.Database.MigrationsDir
	}

	sqldb, err := database.OpenPostgres(context.Background(), cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	runner := migrations.NewRunner(sqldb, migrations.Options{Dir: migrationsPath}, log)
	defer runner.Close()

	switch migrationType {
	case migrationUp:
		err = runner.RunMigrations()
	case migrationDown:
		err = runner.MigrateDown()
	case migrationTo:
		err = runner.MigrateTo(target)
	case migrationVersion:
	default:
		log.Fatal("MIGRATION", fmt.Sprintf("unknown migration type %q", migrationType))
	}
	if err != nil {
		log.Fatal("MIGRATION", err.Error())
	}

	version, dirty, err := runner.Version()
	if err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	log.Info("MIGRATION", fmt.Sprintf("schema version %d (dirty: %t)", version, dirty))
}
