package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/palette-backend/api"
	"github.com/angelmondragon/palette-backend/api/controllers"
	"github.com/angelmondragon/palette-backend/api/middleware"
	"github.com/angelmondragon/palette-backend/api/routes"
	"github.com/angelmondragon/palette-backend/internal/admins"
	"github.com/angelmondragon/palette-backend/internal/coupons"
	"github.com/angelmondragon/palette-backend/internal/credits"
	"github.com/angelmondragon/palette-backend/internal/gallery"
	"github.com/angelmondragon/palette-backend/internal/generations"
	"github.com/angelmondragon/palette-backend/internal/predictions"
	"github.com/angelmondragon/palette-backend/internal/webhooks"
	"github.com/angelmondragon/palette-backend/pkg/config"
	"github.com/angelmondragon/palette-backend/pkg/db"
	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/angelmondragon/palette-backend/pkg/metrics"
	"github.com/angelmondragon/palette-backend/pkg/migrate"
	"github.com/angelmondragon/palette-backend/pkg/observability"
	"github.com/angelmondragon/palette-backend/pkg/ratelimit"
	"github.com/angelmondragon/palette-backend/pkg/redis"
	"github.com/angelmondragon/palette-backend/pkg/replicate"
	"github.com/angelmondragon/palette-backend/pkg/storage"
	"github.com/angelmondragon/palette-backend/pkg/storage/s3"
	"github.com/angelmondragon/palette-backend/pkg/webhook"
)

const serviceName = "api"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	closeAll := func() {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i]())
		}
		if errs != nil {
			logg.Error(context.Background(), "error releasing resources", errs)
		}
	}
	fail := func(msg string, err error) {
		logg.Error(ctx, msg, err)
		closeAll()
		os.Exit(1)
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing, serviceName, cfg.App.Version)
	if err != nil {
		fail("failed to set up tracing", err)
	}
	closers = append(closers, func() error { return shutdownTracing(context.Background()) })

	dbClient, err := db.New(ctx, cfg.DB, db.Options{
		UseSQLite: cfg.FeatureFlags.UseSQLite,
		Tracing:   cfg.Tracing.Enabled,
	}, logg)
	if err != nil {
		fail("failed to bootstrap database", err)
	}
	closers = append(closers, dbClient.Close)

	if cfg.FeatureFlags.UseSQLite {
		if err := dbClient.DB().AutoMigrate(models.All()...); err != nil {
			fail("failed to auto-migrate sqlite schema", err)
		}
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		fail("failed to run dev migrations", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		fail("failed to bootstrap redis", err)
	}
	closers = append(closers, redisClient.Close)

	objectStore, err := s3.New(ctx, cfg.Storage, logg)
	if err != nil {
		fail("failed to bootstrap object storage", err)
	}

	relocator, err := storage.NewRelocator(objectStore,
		storage.WithHTTPClient(&http.Client{Timeout: cfg.Storage.DownloadTimeout}),
		storage.WithPrefix(cfg.Storage.KeyPrefix),
		storage.WithMaxBytes(cfg.Storage.MaxAssetBytes()),
	)
	if err != nil {
		fail("failed to create relocator", err)
	}

	provider, err := replicate.NewClient(cfg.Replicate.APIToken,
		replicate.WithHTTPClient(&http.Client{Timeout: cfg.Replicate.RequestTimeout}),
		replicate.WithBaseURL(cfg.Replicate.BaseURL),
	)
	if err != nil {
		fail("failed to create replicate client", err)
	}

	var fetcher webhook.SecretFetcher = provider
	if cfg.Webhook.SigningSecret != "" {
		fetcher = webhook.StaticSecret(cfg.Webhook.SigningSecret)
	}
	secrets, err := webhook.NewSecretCache(fetcher, cfg.Webhook.SecretCacheTTL,
		webhook.WithRefetchInterval(cfg.Webhook.SecretRefetchMin),
	)
	if err != nil {
		fail("failed to create webhook secret cache", err)
	}

	guard, err := webhooks.NewDeliveryGuard(redisClient, cfg.Webhook.IdempotencyTTL, webhooks.ReplicateScope)
	if err != nil {
		fail("failed to create webhook delivery guard", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	creditSvc, err := credits.NewService(dbClient, credits.NewRepository(dbClient.DB()), logg, metrics.NewCreditMetrics(registry))
	if err != nil {
		fail("failed to create credits service", err)
	}
	couponSvc, err := coupons.NewService(dbClient, coupons.NewRepository(dbClient.DB()), creditSvc, logg)
	if err != nil {
		fail("failed to create coupons service", err)
	}

	galleryRepo := gallery.NewRepository(dbClient.DB())
	generationSvc, err := generations.NewService(creditSvc, provider, galleryRepo, logg, generations.Options{
		WebhookURL:     cfg.Replicate.WebhookURL(),
		VideoRetention: cfg.Gallery.VideoRetention,
	})
	if err != nil {
		fail("failed to create generations service", err)
	}

	reconciler, err := predictions.NewReconciler(galleryRepo, relocator, provider, creditSvc, logg,
		metrics.NewPredictionMetrics(registry),
		predictions.Options{
			CacheSize:       cfg.Gallery.PollCacheSize,
			RefundOnFailure: cfg.Credits.RefundOnProviderFailure,
		},
	)
	if err != nil {
		fail("failed to create prediction reconciler", err)
	}

	limiter := ratelimit.New()
	go limiter.Run(ctx, cfg.RateLimit.SweepInterval)

	handler := routes.NewRouter(routes.Deps{
		Config:      cfg,
		Logger:      logg,
		Gatherer:    registry,
		HTTPMetrics: metrics.NewHTTPMetrics(registry),
		Pingers: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
			"storage":  objectStore,
		},
		Idempotency: redisClient,
		Limiter:     limiter,
		Throttler:   middleware.NewThrottler(cfg.RateLimit.PollPerSecond, cfg.RateLimit.PollBurst, cfg.RateLimit.PollVisitorTTL),
		Admins:      admins.NewRepository(dbClient.DB()),
		Credits:     creditSvc,
		Coupons:     couponSvc,
		Generations: generationSvc,
		Reconciler:  reconciler,
		Secrets:     secrets,
		Verifier:    webhook.NewVerifier(cfg.Webhook.TimestampTolerance),
		Guard:       guard,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server, err := api.NewServer(handler, api.ServerOptions{Addr: addr}, logg)
	if err != nil {
		fail("failed to create api server", err)
	}

	runCtx := logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"addr":    addr,
		"version": cfg.App.Version,
	})
	logg.Info(runCtx, "starting api server")

	if err := server.Run(runCtx); err != nil {
		fail("api server stopped unexpectedly", err)
	}

	logg.Info(runCtx, "api server shut down gracefully")
	closeAll()
}
