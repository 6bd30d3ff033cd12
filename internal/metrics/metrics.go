package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache operations by key namespace (search, token, suggestion).
	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_api_cache_operations_total",
			Help: "Cache operations by namespace, operation and result.",
		},
		[]string{"namespace", "op", "result"},
	)

	CacheLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_api_cache_latency_seconds",
			Help:    "Cache operation latency in seconds.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"op"},
	)

	// Phase-one latency, labelled by whether the memoized result was used.
	SearchLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_api_search_latency_seconds",
			Help:    "Search pipeline latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"cache"},
	)

	EmbeddingDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_api_embedding_degraded_total",
			Help: "Searches answered with zero results because embedding failed or was empty.",
		},
	)

	// Redemption outcomes: ok, not_found, error.
	SuggestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_api_suggestions_total",
			Help: "Suggestion redemptions by outcome.",
		},
		[]string{"outcome"},
	)

	GenerationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_api_generation_retries_total",
			Help: "Retried generation attempts.",
		},
	)

	// HTTP latency in seconds, labelled by route pattern.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_api_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register is called once in main() to register metrics.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheOperationsTotal,
			CacheLatencySeconds,
			SearchLatencySeconds,
			EmbeddingDegradedTotal,
			SuggestionsTotal,
			GenerationRetriesTotal,
			HTTPLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		// Use the route pattern so token paths do not explode cardinality.
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		HTTPLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers flush through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
