package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"hac-shop/internal/auth"
	"hac-shop/internal/booking"
	"hac-shop/internal/booking/booking_api"
	"hac-shop/internal/booking/db"
	rediswrap "hac-shop/internal/booking/redis"
	"hac-shop/internal/checkout"
	"hac-shop/internal/config"
	"hac-shop/internal/database"
	"hac-shop/internal/database/migrations"
	"hac-shop/internal/kafka"
	"hac-shop/internal/logger"
	"hac-shop/internal/metrics"
	"hac-shop/internal/payment/services"
	"hac-shop/internal/report"
	"hac-shop/internal/salewindow"
	"hac-shop/internal/voucher"
)

func runMigrations(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) {
	// the migrate driver closes its handle, so it gets its own
	sqldb, err := database.OpenPostgres(ctx, cfg, log)
	if err != nil {
		log.Fatal("MIGRATION", fmt.Sprintf("Failed to connect for migrations: %v", err))
	}
	runner := migrations.NewRunner(sqldb, migrations.Options{Dir: cfg.MigrationsDir, AutoMigrate: true}, log)
	defer runner.Close()

	if err := runner.RunMigrations(); err != nil {
		log.Fatal("MIGRATION", fmt.Sprintf("Failed to run migrations: %v", err))
	}
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func main() {
	log := logger.NewLogger("hac-shop")
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))
	log.Info("APP", fmt.Sprintf("Starting hac-shop (%s)", cfg.Env))

	ctx := context.Background()
	m := metrics.New()

	if cfg.Database.AutoMigrate {
		runMigrations(ctx, cfg.Database, log)
	}

	bunDB, err := database.OpenBun(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()
	store := db.New(bunDB, log)

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()
	lock := rediswrap.NewLock(redisClient, cfg.Lock.TTL, log)

	var events booking.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, log, m)
		defer producer.Close()
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, kafka.BookingTopics(cfg.Kafka.TopicPrefix), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		events = producer
	} else {
		log.Warn("KAFKA", "Kafka disabled, booking events will not be published")
	}

	stripeService, err := services.NewStripeService(cfg.Stripe, nil, m, log)
	if err != nil {
		log.Fatal("STRIPE", err.Error())
	}
	var verifier booking.EventVerifier
	if cfg.Stripe.WebhookSecret != "" {
		verifier = stripeService
	} else {
		log.Warn("STRIPE", "STRIPE_WEBHOOK_SECRET not set, webhooks will be rejected")
	}

	loc := cfg.Shop.Location()
	adapter := checkout.NewAdapter(stripeService, store, checkout.Options{
		BaseURL:    cfg.Shop.BaseURL,
		UnitAmount: cfg.Shop.UnitAmount(),
		Currency:   cfg.Shop.Currency,
		Location:   loc,
	}, log)

	service := booking.NewService(store, adapter, lock, events, booking.Options{
		Window:   salewindow.New(cfg.Shop.SaleHorizon),
		Verifier: verifier,
		Logger:   log,
		Metrics:  m,
		Location: loc,
	})

	vouchers, err := voucher.NewGenerator(cfg.Shop.VoucherSecret, loc)
	if err != nil {
		log.Fatal("APP", fmt.Sprintf("Failed to create voucher generator: %v", err))
	}

	handler := booking_api.NewHandler(service, vouchers, loc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(booking_api.RequestLogger(log, m))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())
	r.Mount("/supper", handler.Routes())
	log.Info("ROUTER", "Booking routes registered under /supper")

	if cfg.Auth.AdminEnabled() {
		verifier, err := auth.NewVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID)
		if err != nil {
			log.Fatal("AUTH", err.Error())
		}
		admin := booking_api.NewAdminHandler(handler, report.NewService(store, loc))
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireStaff(verifier, cfg.Auth.StaffRole, log))
			r.Mount("/admin", admin.Routes())
		})
		log.Info("ROUTER", "Admin routes registered under /admin")
	} else {
		log.Warn("AUTH", "OIDC_ISSUER not set, admin routes are disabled")
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("hac-shop running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "hac-shop shutdown complete")
	}
}
