package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// ErrUnexpectedStatus is wrapped by errors for non-2xx Qdrant responses.
var ErrUnexpectedStatus = errors.New("vectorindex: unexpected status")

type QdrantConfig struct {
	BaseURL    string
	APIKey     string
	Collection string
	Timeout    time.Duration // default: 10s
}

func (c *QdrantConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	if c.Collection == "" {
		return errors.New("Collection is required")
	}
	return nil
}

// Qdrant talks to the Qdrant REST API.
type Qdrant struct {
	http       *resty.Client
	collection string
	logger     *zap.Logger
}

type qdrantSearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type qdrantScoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload json.RawMessage `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantScoredPoint `json:"result"`
	Status any                 `json:"status"`
}

type qdrantCountRequest struct {
	Exact bool `json:"exact"`
}

type qdrantCountResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

// NewQdrant creates a Qdrant client for a single collection.
func NewQdrant(cfg QdrantConfig, logger *zap.Logger) (*Qdrant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid qdrant config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}

	return &Qdrant{
		http:       client,
		collection: cfg.Collection,
		logger:     logger.Named("qdrant"),
	}, nil
}

// Search returns up to limit points closest to vector, best first.
func (q *Qdrant) Search(ctx context.Context, vector []float32, limit int) ([]Record, error) {
	start := time.Now()

	var out qdrantSearchResponse
	resp, err := q.http.R().
		SetContext(ctx).
		SetPathParam("collection", q.collection).
		SetBody(qdrantSearchRequest{Vector: vector, Limit: limit, WithPayload: true}).
		SetResult(&out).
		Post("/collections/{collection}/points/search")
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: search %d: %s", ErrUnexpectedStatus, resp.StatusCode(), truncate(resp.String(), 200))
	}

	records := make([]Record, 0, len(out.Result))
	for _, p := range out.Result {
		records = append(records, Record{
			ID:      pointID(p.ID),
			Score:   p.Score,
			Payload: p.Payload,
		})
	}

	q.logger.Debug("qdrant search completed",
		zap.String("collection", q.collection),
		zap.Int("limit", limit),
		zap.Int("results", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return records, nil
}

// Count returns the exact number of points in the collection.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	var out qdrantCountResponse
	resp, err := q.http.R().
		SetContext(ctx).
		SetPathParam("collection", q.collection).
		SetBody(qdrantCountRequest{Exact: true}).
		SetResult(&out).
		Post("/collections/{collection}/points/count")
	if err != nil {
		return 0, fmt.Errorf("vectorindex: count: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: count %d: %s", ErrUnexpectedStatus, resp.StatusCode(), truncate(resp.String(), 200))
	}
	return out.Result.Count, nil
}

// Ping checks that the collection exists and the server answers.
func (q *Qdrant) Ping(ctx context.Context) error {
	resp, err := q.http.R().
		SetContext(ctx).
		SetPathParam("collection", q.collection).
		Get("/collections/{collection}")
	if err != nil {
		return fmt.Errorf("vectorindex: ping: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: ping %d", ErrUnexpectedStatus, resp.StatusCode())
	}
	return nil
}

// Close releases idle connections.
func (q *Qdrant) Close() error {
	return q.http.Close()
}

// pointID renders a Qdrant point id (unsigned integer or UUID string).
func pointID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
