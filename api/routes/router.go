package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/intake-backend/api/controllers"
	"github.com/angelmondragon/intake-backend/api/middleware"
	"github.com/angelmondragon/intake-backend/internal/attachments"
	"github.com/angelmondragon/intake-backend/internal/drafts"
	"github.com/angelmondragon/intake-backend/internal/finalization"
	"github.com/angelmondragon/intake-backend/pkg/config"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	"github.com/angelmondragon/intake-backend/pkg/metrics"
	"github.com/angelmondragon/intake-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs. Redis and Gatherer are optional.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	Metrics      *metrics.IntakeMetrics
	Gatherer     prometheus.Gatherer
	Redis        *redis.Client
	Pingers      map[string]controllers.Pinger
	Drafts       drafts.Service
	Attachments  attachments.Service
	Finalization finalization.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.Metrics),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, logg, deps.Pingers))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	lookupPolicy := middleware.NewRateLimitPolicy("draft-lookup", cfg.Drafts.LookupWindow, cfg.Drafts.LookupIPLimit)

	// A nil *redis.Client must not reach the middleware as a non-nil interface.
	var (
		idempotency = middleware.Idempotency(nil, logg)
		lookupLimit = middleware.RateLimit(lookupPolicy, nil, logg)
	)
	if deps.Redis != nil {
		idempotency = middleware.Idempotency(deps.Redis, logg)
		lookupLimit = middleware.RateLimit(lookupPolicy, deps.Redis, logg)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(idempotency).Post("/draft", controllers.DraftSave(deps.Drafts, logg))
		r.With(lookupLimit).Get("/draft", controllers.DraftFetch(deps.Drafts, logg))
		r.Post("/upload", controllers.Upload(deps.Attachments, cfg.Media.MaxUploadBytes(), logg))
		r.With(idempotency).Post("/submit", controllers.Submit(deps.Finalization, logg))
	})

	return r
}
