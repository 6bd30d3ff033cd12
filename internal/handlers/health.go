package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"search-api/pkg/logging/logging"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	Deps    map[string]Pinger
	Timeout time.Duration
}

func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{Deps: deps, Timeout: 2 * time.Second}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Readiness answers 204 when every dependency pings, 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	failed := map[string]string{}
	for name, dep := range h.Deps {
		if err := dep.Ping(ctx); err != nil {
			logging.L(ctx).Warn("readiness_check_failed",
				zap.String("dependency", name),
				zap.Error(err),
			)
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"unavailable": failed})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
