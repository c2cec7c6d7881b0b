package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"hac-shop/internal/config"
	"hac-shop/internal/logger"
)

const retryDelay = 2 * time.Second

// OpenPostgres opens and pings a Postgres handle, retrying while the database
// is still starting.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*sql.DB, error) {
	attempts := cfg.ConnectRetry
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, attempts))

		var sqldb *sql.DB
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.PingContext(ctx)
			if err == nil {
				sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
				sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
				sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
				return sqldb, nil
			}
			_ = sqldb.Close()
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", attempts, err)
}

// OpenBun wraps OpenPostgres in a bun.DB with the Postgres dialect.
func OpenBun(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	sqldb, err := OpenPostgres(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}
