package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/palette-backend/api"
	"github.com/angelmondragon/palette-backend/internal/cron"
	"github.com/angelmondragon/palette-backend/internal/gallery"
	"github.com/angelmondragon/palette-backend/pkg/config"
	"github.com/angelmondragon/palette-backend/pkg/db"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/angelmondragon/palette-backend/pkg/metrics"
	"github.com/angelmondragon/palette-backend/pkg/migrate"
	"github.com/angelmondragon/palette-backend/pkg/redis"
	"github.com/angelmondragon/palette-backend/pkg/storage/s3"
)

const serviceName = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single sweep cycle and exit")
	metricsAddr := flag.String("metrics-addr", "", "serve prometheus metrics on this address (disabled when empty)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, db.Options{UseSQLite: cfg.FeatureFlags.UseSQLite}, logg)
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

	objectStore, err := s3.New(context.Background(), cfg.Storage, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap object storage", err)
		os.Exit(1)
	}

	galleryRepo := gallery.NewRepository(dbClient.DB())

	expired, err := cron.NewExpiredVideoJob(cron.ExpiredVideoJobParams{
		Logger:    logg,
		Gallery:   galleryRepo,
		Store:     objectStore,
		BatchSize: cfg.Gallery.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expired video job", err)
		os.Exit(1)
	}
	imageCap, err := cron.NewImageCapJob(cron.ImageCapJobParams{
		Logger:    logg,
		Gallery:   galleryRepo,
		Store:     objectStore,
		Cap:       cfg.Gallery.ImageCapPerUser,
		BatchSize: cfg.Gallery.SweepBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create image cap job", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(expired, imageCap)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	locker, err := cron.NewRedisLocker(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron locker", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  metrics.NewSweepMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if *once {
		logg.Info(ctx, "running single cron cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer, err := api.NewServer(mux, api.ServerOptions{Addr: *metricsAddr}, logg)
		if err != nil {
			logg.Error(ctx, "failed to create metrics server", err)
			os.Exit(1)
		}
		go func() {
			if err := metricsServer.Run(ctx); err != nil {
				logg.Error(ctx, "metrics server stopped", err)
			}
		}()
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
