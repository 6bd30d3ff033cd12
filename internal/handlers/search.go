package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"search-api/internal/search"
	"search-api/pkg/logging/logging"
)

// Searcher runs phase-one queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

// SearchHandler serves GET /search.
type SearchHandler struct {
	Searcher Searcher
}

func NewSearchHandler(s Searcher) *SearchHandler {
	return &SearchHandler{Searcher: s}
}

// Search handles GET /search?query=&limit=&user=.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	user := userParam(r)

	logger.Info("search_request",
		zap.String("query", query),
		zap.Int("limit", limit),
	)

	res, err := h.Searcher.Search(ctx, search.Request{
		Query: query,
		Limit: limit,
		User:  user,
	})
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("search_timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "gateway_timeout")
		return
	}
	if err != nil {
		logger.Error("search_failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// userParam returns the caller's user tag, or "anon".
func userParam(r *http.Request) string {
	if u := strings.TrimSpace(r.URL.Query().Get("user")); u != "" {
		return u
	}
	return "anon"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
