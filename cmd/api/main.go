package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/homerunhq/homerun-backend/api/controllers"
	"github.com/homerunhq/homerun-backend/api/routes"
	"github.com/homerunhq/homerun-backend/internal/bookings"
	"github.com/homerunhq/homerun-backend/internal/payments"
	"github.com/homerunhq/homerun-backend/internal/transactions"
	"github.com/homerunhq/homerun-backend/pkg/config"
	"github.com/homerunhq/homerun-backend/pkg/db"
	"github.com/homerunhq/homerun-backend/pkg/logger"
	"github.com/homerunhq/homerun-backend/pkg/metrics"
	"github.com/homerunhq/homerun-backend/pkg/migrate"
	"github.com/homerunhq/homerun-backend/pkg/redis"
	"github.com/homerunhq/homerun-backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create square client", err)
		os.Exit(1)
	}
	gateway, err := transactions.NewSquareGateway(squareClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}
	locker, err := transactions.NewBookingLocker(redisClient, cfg.Booking.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create booking locker", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	txMetrics := metrics.NewTransactionMetrics(registry)

	bookingsSvc, err := bookings.NewService(bookings.NewRepository(dbClient.DB()), dbClient, cfg.Booking, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create bookings service", err)
		os.Exit(1)
	}
	paymentsSvc, err := payments.NewService(payments.NewRepository(dbClient.DB()), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}
	coordinator, err := transactions.NewCoordinator(
		paymentsSvc,
		bookingsSvc,
		gateway,
		locker,
		dbClient,
		txMetrics,
		logg,
		cfg.Square.Timeout,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create transaction coordinator", err)
		os.Exit(1)
	}

	bookingController, err := controllers.NewBookingController(bookingsSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create booking controller", err)
		os.Exit(1)
	}
	paymentController, err := controllers.NewPaymentController(coordinator, paymentsSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment controller", err)
		os.Exit(1)
	}
	healthController := controllers.NewHealthController(dbClient, redisClient, logg)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:           cfg,
			Logger:           logg,
			Health:           healthController,
			Bookings:         bookingController,
			Payments:         paymentController,
			IdempotencyStore: redisClient,
			MetricsRegistry:  registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
			os.Exit(1)
		}
	}
}
