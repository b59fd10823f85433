package controller

import (
	"time"

	"github.com/billingkit/entitlements/internal/domain/catalog"
	"github.com/billingkit/entitlements/internal/domain/entitlement"
	"github.com/billingkit/entitlements/internal/infrastructure/config"
	"github.com/billingkit/entitlements/internal/infrastructure/observability"
	customMW "github.com/billingkit/entitlements/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	Pool            *pgxpool.Pool
	RedisClient     *redis.Client
	Store           entitlement.Store
	Catalog         catalog.Catalog
	Trigger         ReconcileTrigger
	Metrics         *observability.Metrics
	CORSConfig      config.CORSConfig
	RateLimitPerMin int
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	entitlementH := NewEntitlementController(deps.Store, deps.Catalog, deps.Trigger)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/entitlements", entitlementH.List)
		r.Get("/entitlements/{kind}", entitlementH.Get)
		r.Get("/products", entitlementH.ListProducts)

		// Manual trigger is rate limited; the reconcile loop covers the
		// steady state anyway.
		r.With(customMW.RateLimit(deps.RateLimitPerMin)).
			Post("/reconcile", entitlementH.Reconcile)
	})

	return r
}
