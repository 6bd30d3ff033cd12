package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"search-api/internal/suggestion"
	"search-api/pkg/logging/logging"
)

// Redeemer redeems suggestion tokens.
type Redeemer interface {
	Redeem(ctx context.Context, token, user string) (<-chan suggestion.Event, error)
	Forget(ctx context.Context, token string) error
}

// SuggestionHandler serves GET /suggestion/{token} as server-sent events.
type SuggestionHandler struct {
	Redeemer Redeemer
	// EvictOnDisconnect drops the token when the client leaves mid-stream.
	EvictOnDisconnect bool
}

func NewSuggestionHandler(r Redeemer, evictOnDisconnect bool) *SuggestionHandler {
	return &SuggestionHandler{Redeemer: r, EvictOnDisconnect: evictOnDisconnect}
}

// Suggestion streams one "data" event per generated chunk, then a "close"
// event. Unknown or expired tokens get a 404.
func (h *SuggestionHandler) Suggestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")
	logger := logging.L(ctx).With(zap.String("token", token))

	events, err := h.Redeemer.Redeem(ctx, token, userParam(r))
	if errors.Is(err, suggestion.ErrNotFound) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Suggestion not found or expired"))
		return
	}
	if err != nil {
		logger.Error("suggestion_failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "suggestion generation failed")
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	chunks := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("suggestion_client_disconnected", zap.Int("chunks", chunks))
			if h.EvictOnDisconnect {
				if err := h.Redeemer.Forget(context.WithoutCancel(ctx), token); err != nil {
					logger.Warn("suggestion_forget_failed", zap.Error(err))
				}
			}
			return
		case ev, ok := <-events:
			if !ok {
				writeSSE(w, "close", "")
				flush()
				logger.Info("suggestion_completed", zap.Int("chunks", chunks))
				return
			}
			if ev.Err != nil {
				logger.Error("suggestion_stream_error", zap.Int("chunks", chunks), zap.Error(ev.Err))
				writeSSE(w, "error", "suggestion generation failed")
				writeSSE(w, "close", "")
				flush()
				return
			}
			chunks++
			writeSSE(w, "", ev.Delta)
			flush()
		}
	}
}

// writeSSE writes one event. Multi-line data is split over several data lines.
func writeSSE(w http.ResponseWriter, event, data string) {
	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, _ = w.Write([]byte(b.String()))
}
