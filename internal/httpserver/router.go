package httpserver

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"search-api/internal/handlers"
	"search-api/internal/metrics"
	"search-api/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by SetupRouter.
type Handlers struct {
	Search     *handlers.SearchHandler
	Suggestion *handlers.SuggestionHandler
	Health     *handlers.HealthHandler
}

// SetupRouter mounts middleware and routes on r. searchTimeout bounds the
// search route only; suggestion streams run until the generator finishes or
// the client leaves.
func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers, searchTimeout time.Duration) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())

	r.With(middleware.Timeout(searchTimeout)).Get("/search", h.Search.Search)
	r.Get("/suggestion/{token}", h.Suggestion.Suggestion)

	r.Route("/health", func(r chi.Router) {
		r.Get("/liveness", h.Health.Liveness)
		r.Get("/readiness", h.Health.Readiness)
	})

	r.Handle("/metrics", metrics.Handler())
}
