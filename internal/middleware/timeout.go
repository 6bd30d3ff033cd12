package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"search-api/pkg/logging/logging"
)

// Timeout bounds the request context to d. The handler runs on the calling
// goroutine; if the deadline passed and nothing was written yet, a 504 is
// sent on its behalf. Not for streaming routes.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			tw := &trackingWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(ctx))

			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}
			logging.L(ctx).Warn("request timeout",
				zap.Duration("timeout", d),
				zap.Bool("headers_written", tw.wroteHeader),
			)
			if tw.wroteHeader {
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write([]byte(`{"error":"gateway_timeout"}`))
		})
	}
}
