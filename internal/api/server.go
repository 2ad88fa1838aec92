package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/albapepper/momentum/internal/api/handler"
	"github.com/albapepper/momentum/internal/app"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(a *app.App) *chi.Mux {
	cfg := a.Config
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	h := handler.New(a)

	// --- Routes ---

	r.Get("/", h.Root)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", h.PostEvent)

		r.Get("/momentum/{userID}", h.GetMomentum)
		r.Post("/momentum/{userID}/recompute", h.RecomputeMomentum)

		r.Get("/rules", h.GetRules)
		r.Get("/rules/{ruleID}", h.GetRule)
		r.Get("/interventions/{userID}", h.ListInterventions)
		r.Post("/interventions/{userID}/evaluate", h.EvaluateInterventions)

		r.Get("/preferences/{userID}", h.GetPreference)
		r.Put("/preferences/{userID}", h.PutPreference)

		r.Post("/deeplinks", h.PostDeepLink)
		r.Post("/deeplinks/{userID}/foreground", h.Foreground)
		r.Get("/deeplinks/actions/{actionID}", h.GetDeepLink)

		r.Post("/feedback", h.PostFeedback)
		r.Get("/effectiveness/{testName}/{variantID}", h.GetEffectiveness)
		r.Get("/variants/{testName}/{userID}", h.GetVariant)
	})

	return r
}
