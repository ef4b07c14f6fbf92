package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/palette-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/palette-backend/api/controllers/webhooks"
	"github.com/angelmondragon/palette-backend/api/middleware"
	"github.com/angelmondragon/palette-backend/internal/admins"
	"github.com/angelmondragon/palette-backend/internal/coupons"
	"github.com/angelmondragon/palette-backend/internal/credits"
	"github.com/angelmondragon/palette-backend/internal/generations"
	"github.com/angelmondragon/palette-backend/internal/predictions"
	"github.com/angelmondragon/palette-backend/internal/webhooks"
	"github.com/angelmondragon/palette-backend/pkg/config"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/angelmondragon/palette-backend/pkg/metrics"
	"github.com/angelmondragon/palette-backend/pkg/ratelimit"
	pkgredis "github.com/angelmondragon/palette-backend/pkg/redis"
	"github.com/angelmondragon/palette-backend/pkg/webhook"
)

const (
	purposeCouponRedeem = "coupon-redeem"
	purposeAdminGrant   = "admin-grant"
)

// Deps is everything the HTTP surface needs. Pingers drive /health/ready.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
	Pingers     map[string]controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Limiter     *ratelimit.Limiter
	Throttler   *middleware.Throttler
	Admins      admins.Checker
	Credits     credits.Service
	Coupons     coupons.Service
	Generations generations.Service
	Reconciler  *predictions.Reconciler
	Secrets     *webhook.SecretCache
	Verifier    *webhook.Verifier
	Guard       *webhooks.DeliveryGuard
}

// NewRouter builds the API. Global middleware runs outermost first.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(d.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.Pingers))
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	webhookParams := webhookcontrollers.ReplicateParams{
		Reconciler: d.Reconciler,
		Secrets:    d.Secrets,
		Verifier:   d.Verifier,
		Logger:     logg,
		Timeout:    cfg.Webhook.ProcessingTimeout,
	}
	if d.Guard != nil {
		webhookParams.Guard = d.Guard
	}
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/replicate", webhookcontrollers.ReplicateWebhook(webhookParams))
	})

	r.Get("/api/v1/pricing", controllers.Pricing(d.Credits, logg))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.ResolveAdmin(d.Admins, logg))
		r.Use(middleware.Idempotency(d.Idempotency, logg))

		r.Route("/v1/credits", func(r chi.Router) {
			r.Get("/", controllers.CreditsBalance(d.Credits, logg))
			r.Post("/", controllers.CreditsAction(d.Credits, logg))
			r.Get("/transactions", controllers.CreditTransactions(d.Credits, logg))
			r.With(middleware.RateLimit(d.Limiter, purposeCouponRedeem, ratelimit.Policy{
				MaxRequests: cfg.Credits.CouponMaxRequests,
				Window:      cfg.Credits.CouponWindow,
			}, logg)).Post("/coupons/redeem", controllers.RedeemCoupon(d.Coupons, logg))
		})

		r.Post("/v1/generations", controllers.SubmitGeneration(d.Generations, logg))

		r.With(middleware.Throttle(d.Throttler, logg)).
			Get("/v1/predictions/{predictionID}", controllers.PollPrediction(d.Reconciler, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAdmin(d.Admins, logg))
		r.Use(middleware.Idempotency(d.Idempotency, logg))

		r.With(middleware.RateLimit(d.Limiter, purposeAdminGrant, ratelimit.Policy{
			MaxRequests: cfg.Credits.AdminGrantMaxRequests,
			Window:      cfg.Credits.AdminGrantWindow,
		}, logg)).Post("/v1/credits/grant", controllers.AdminGrantCredits(d.Credits, logg))
	})

	return r
}
