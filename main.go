package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"clinic-finder-server/internal/booking"
	"clinic-finder-server/internal/config"
	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/metrics"
	"clinic-finder-server/internal/middleware"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/notify"
	"clinic-finder-server/internal/routes"
	"clinic-finder-server/internal/storage"
)

func main() {
	if err := run(); err != nil {
		logging.Default().Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal when the environment is injected by the platform.
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("could not read .env file", "error", envErr)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := models.InitDB(models.DatabaseConfig{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := models.CloseDB(db); err != nil {
			logger.Warn("close database", "error", err)
		}
	}()
	logger.Info("database ready", "driver", cfg.Database.Driver)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(registry)

	sender, err := notify.NewSender(ctx, notify.SenderConfig{
		Transport: cfg.Mailer.Transport,
		APIKey:    cfg.Mailer.SendGridAPIKey,
		FromEmail: cfg.Mailer.DefaultFrom,
		FromName:  cfg.Mailer.FromName,
		Region:    cfg.Mailer.AWSRegion,
	}, logger)
	if err != nil {
		return fmt.Errorf("mail transport: %w", err)
	}
	logger.Info("mail transport ready", "transport", cfg.Mailer.Transport)

	store := storage.NewGormStore(db)
	svc := booking.NewService(store, notify.NewBookingNotifier(sender, logger), bookingMetrics, logger, booking.Options{
		Granularity:   cfg.SlotGranularity(),
		Location:      cfg.Location(),
		NotifyTimeout: cfg.Booking.NotifyTimeout,
	})

	var limiter middleware.Limiter
	if cfg.RateLimit.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr, Password: cfg.RateLimit.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiter will fail until it recovers", "addr", cfg.RateLimit.RedisAddr, "error", err)
		}
		limiter = middleware.NewRedisRateLimiter(rdb, cfg.RateLimit.Limit, cfg.RateLimit.Window, "clinicfinder:rl")
	} else {
		limiter = middleware.NewMemoryRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	router, err := routes.NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	routes.SetupRoutes(router, routes.Deps{
		DB:       db,
		Config:   cfg,
		Store:    store,
		Booking:  svc,
		Limiter:  limiter,
		Metrics:  bookingMetrics,
		Logger:   logger,
		Gatherer: registry,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
