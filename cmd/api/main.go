package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/learnexity/learnexity-backend/api/routes"
	"github.com/learnexity/learnexity-backend/internal/enrollments"
	"github.com/learnexity/learnexity-backend/internal/geo"
	"github.com/learnexity/learnexity-backend/internal/messaging"
	"github.com/learnexity/learnexity-backend/internal/notify"
	"github.com/learnexity/learnexity-backend/internal/payments"
	"github.com/learnexity/learnexity-backend/pkg/config"
	"github.com/learnexity/learnexity-backend/pkg/db"
	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/migrate"
	"github.com/learnexity/learnexity-backend/pkg/redis"
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

	enrollmentRepo := enrollments.NewRepository(dbClient.DB())
	notificationRepo := notify.NewRepository(dbClient.DB())

	notifier, err := notify.NewSendgridNotifier(notify.SendgridParams{
		Config: cfg.Sendgrid,
		Repo:   notificationRepo,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
	}

	enrollmentService, err := enrollments.NewService(enrollments.ServiceParams{
		Repo:   enrollmentRepo,
		Tx:     dbClient,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create enrollments service", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Ledger:      payments.NewRepository(dbClient.DB()),
		Enrollments: enrollmentRepo,
		Tx:          dbClient,
		Notifier:    notifier,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	messagingService, err := messaging.NewService(messaging.ServiceParams{
		Repo:     messaging.NewRepository(dbClient.DB()),
		Notifier: notifier,
		Config:   cfg.Messaging,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create messaging service", err)
		os.Exit(1)
	}

	geoResolver, err := geo.NewResolver(cfg.Geo, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create geo resolver", err)
		os.Exit(1)
	}

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
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Enrollments:   enrollmentService,
			Payments:      paymentService,
			Messaging:     messagingService,
			Notifications: notificationRepo,
			Geo:           geoResolver,
			Metrics:       prometheus.DefaultGatherer,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
