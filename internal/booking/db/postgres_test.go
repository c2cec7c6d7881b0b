package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"hac-shop/internal/booking/db"
	"hac-shop/internal/database/migrations"
	"hac-shop/internal/models"
)

// TestPostgresIntegration runs the store against a real Postgres migrated with
// the SQL files shipped in ./migrations.
func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "hac",
				"POSTGRES_PASSWORD": "hac",
				"POSTGRES_DB":       "hac_shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://hac:hac@%s:%s/hac_shop?sslmode=disable", host, port.Port())

	migrationDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	runner := migrations.NewRunner(migrationDB, migrations.Options{Dir: "../../../migrations"}, nil)
	require.NoError(t, runner.RunMigrations())
	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	require.NoError(t, runner.Close())

	sqldb, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()
	store := db.New(bunDB, nil)

	now := time.Now().UTC().Truncate(time.Second)
	night := models.NewDrillNight(now.Add(72*time.Hour), now.Add(69*time.Hour))
	require.NoError(t, store.CreateDrillNight(ctx, night))

	nights, err := store.ListSellableDrillNights(ctx, now, 4*7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, nights, 1)
	assert.Equal(t, night.ID, nights[0].ID)

	b := models.NewBooking(night.ID, "Ada Lovelace", "ada@example.org", 2, "no nuts")
	s := models.NewCheckoutSession(b.ID)
	require.NoError(t, store.CreateBooking(ctx, b, s))

	s.SessionID = "cs_pg_1"
	s.CheckoutURL = "https://checkout.stripe.com/c/pay/cs_pg_1"
	require.NoError(t, store.SaveCheckoutSession(ctx, s))

	got, err := store.GetBookingBySessionID(ctx, "cs_pg_1")
	require.NoError(t, err)
	assert.Equal(t, "no nuts", got.DietaryNotes)
	assert.Equal(t, night.ID, got.DrillNight.ID)

	stale := *got
	require.NoError(t, store.UpdateBookingStatus(ctx, got, models.StatusPaid))
	assert.ErrorIs(t, store.UpdateBookingStatus(ctx, &stale, models.StatusCancelled), models.ErrStaleBooking)

	paid, meals, err := store.DrillNightTotals(ctx, night.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, paid)
	assert.Equal(t, 2, meals)

	require.NoError(t, store.DeleteDrillNight(ctx, night.ID))
	_, err = store.GetBooking(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
}
