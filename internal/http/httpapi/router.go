package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mediaqueue/internal/http/handlers"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/middleware"
)

// NewRouter assembles the HTTP surface. The webhook endpoint stays outside
// auth and rate limiting: the provider signs nothing and must never be turned
// away once a submission is in flight.
func NewRouter(app *handlers.App, cfg *infra.Config, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Post("/v1/webhooks/provider", app.ProviderWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))

		r.Route("/v1/generations", func(r chi.Router) {
			r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/", app.GenerationsCreate)
			r.Get("/{job_id}", app.GenerationStatus)
		})

		r.Get("/v1/credits", app.CreditsBalance)
	})

	return r
}
