// Package search answers phase-one queries: embed, look up the vector index,
// rank, and hand out a suggestion token. Results are memoized in the shared
// cache.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"search-api/internal/cache"
	"search-api/internal/keys"
	"search-api/internal/llm"
	"search-api/internal/metrics"
	"search-api/internal/safety"
	"search-api/internal/vectorindex"
	"search-api/pkg/logging/logging"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	DefaultFlightTimeout = 30 * time.Second
)

type Config struct {
	// ResultTTL applies to search-key entries. 0 uses the cache default.
	ResultTTL time.Duration
	// SuggestionTTL applies to token-key entries.
	SuggestionTTL time.Duration
	// FlightTimeout bounds one pipeline run, independent of the callers
	// waiting on it. 0 means DefaultFlightTimeout.
	FlightTimeout time.Duration
}

func (c Config) flightTimeout() time.Duration {
	if c.FlightTimeout > 0 {
		return c.FlightTimeout
	}
	return DefaultFlightTimeout
}

type Service struct {
	cache    cache.Store[Result]
	embedder llm.Embedder
	index    vectorindex.Index
	checker  safety.Checker
	cfg      Config
	now      func() time.Time
	newToken func() string
	sf       singleflight.Group
}

type Option func(*Service)

// WithChecker sets the content-safety checker. Default: safety.Nop.
func WithChecker(c safety.Checker) Option {
	return func(s *Service) { s.checker = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokenGenerator replaces the uuid token generator.
func WithTokenGenerator(fn func() string) Option {
	return func(s *Service) { s.newToken = fn }
}

func NewService(store cache.Store[Result], embedder llm.Embedder, index vectorindex.Index, cfg Config, opts ...Option) *Service {
	s := &Service{
		cache:    store,
		embedder: embedder,
		index:    index,
		checker:  safety.Nop{},
		cfg:      cfg,
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeLimit maps 0 to DefaultLimit and clamps the rest to [1, MaxLimit].
func NormalizeLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Search returns the memoized result for (query, limit) if there is one, and
// otherwise runs the pipeline and caches the outcome. Embedding failures
// degrade to an empty answer list; index failures are returned.
//
// Concurrent misses for the same key share one pipeline run. The run is
// detached from every caller's context and bounded by Config.FlightTimeout,
// so a caller that goes away only abandons its own wait.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	limit := NormalizeLimit(req.Limit)
	key := keys.Search(req.Query, limit)

	ch := s.sf.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.flightTimeout())
		defer cancel()

		cached, hit, err := s.cache.Get(fctx, key)
		if err != nil {
			// cache is best-effort
			logging.L(fctx).Warn("search_cache_get_error", zap.Error(err))
		}
		if hit {
			metrics.SearchLatencySeconds.WithLabelValues("hit").Observe(s.now().Sub(start).Seconds())
			logging.L(fctx).Info("cache_decision",
				zap.String("cache_key", key),
				zap.Bool("cache_hit", true),
			)
			return &cached, nil
		}

		res, err := s.run(fctx, req.Query, limit, req.User, start)
		if err != nil {
			return nil, err
		}
		s.store(fctx, key, res)

		metrics.SearchLatencySeconds.WithLabelValues("miss").Observe(s.now().Sub(start).Seconds())
		return res, nil
	})

	select {
	case <-ctx.Done():
		logging.L(ctx).Info("search_abandoned", zap.String("cache_key", key), zap.Error(ctx.Err()))
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := r.Val.(*Result)
		if r.Shared {
			cp := *res
			res = &cp
		}
		return res, nil
	}
}

func (s *Service) run(ctx context.Context, query string, limit int, user string, start time.Time) (*Result, error) {
	logger := logging.L(ctx)

	verdict, err := s.checker.Check(ctx, query)
	if err != nil {
		logger.Warn("content_safety_error", zap.Error(err))
	} else if !verdict.Allowed {
		logger.Warn("content_safety_flagged", zap.String("reason", verdict.Reason))
	}

	var (
		total  int
		vector []float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.index.Count(gctx)
		if err != nil {
			return fmt.Errorf("count records: %w", err)
		}
		total = n
		return nil
	})
	g.Go(func() error {
		vector = s.embed(gctx, query, user)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	answers := []Answer{}
	if len(vector) > 0 {
		records, err := s.index.Search(ctx, vector, limit)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}
		answers = toAnswers(ctx, records)
		logger.Info("search_results", zap.Int("count", len(answers)))
	}

	res := &Result{
		Answers: answers,
		Query:   query,
		Stats: Stats{
			Time:  s.now().Sub(start).Milliseconds(),
			Total: total,
		},
		SuggestionToken: s.newToken(),
	}

	logger.Info("search_completed",
		zap.Bool("cache_hit", false),
		zap.Int("answers", len(res.Answers)),
		zap.Int("total", res.Stats.Total),
		zap.Int64("time_ms", res.Stats.Time),
	)
	return res, nil
}

// embed returns nil when the embedding call fails or yields nothing; the
// caller treats that as "no results".
func (s *Service) embed(ctx context.Context, query, user string) []float32 {
	resp, err := s.embedder.Embed(ctx, &llm.EmbeddingRequest{
		Input: groundingPrompt(query, s.now()),
		User:  keys.Anonymize(user),
	})
	if err != nil {
		metrics.EmbeddingDegradedTotal.Inc()
		logging.L(ctx).Error("embedding_failed", zap.Error(err))
		return nil
	}
	if resp == nil || len(resp.Vector) == 0 {
		metrics.EmbeddingDegradedTotal.Inc()
		logging.L(ctx).Warn("embedding_empty")
		return nil
	}
	return resp.Vector
}

func groundingPrompt(query string, now time.Time) string {
	return fmt.Sprintf("Today, we are the %s.\n\nQUERY START\n%s\nQUERY END",
		now.UTC().Format(time.RFC3339), query)
}

func toAnswers(ctx context.Context, records []vectorindex.Record) []Answer {
	answers := make([]Answer, 0, len(records))
	for _, r := range records {
		var md Metadata
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &md); err != nil {
				logging.L(ctx).Warn("record_payload_invalid",
					zap.String("id", r.ID),
					zap.Error(err),
				)
			}
		}
		answers = append(answers, Answer{
			ID:       r.ID,
			Metadata: md,
			Score:    r.Score,
		})
	}
	return answers
}

// store writes the result under its search key and its token key. The two
// entries are independent; failures are logged and otherwise ignored.
func (s *Service) store(ctx context.Context, key string, res *Result) {
	ctx = context.WithoutCancel(ctx)
	logger := logging.L(ctx)

	if err := s.cache.Set(ctx, key, *res, s.cfg.ResultTTL); err != nil {
		logger.Warn("search_cache_set_error", zap.String("cache_key", key), zap.Error(err))
	}

	tokenKey := keys.Token(res.SuggestionToken)
	if err := s.cache.Set(ctx, tokenKey, *res, s.cfg.SuggestionTTL); err != nil {
		logger.Warn("token_cache_set_error", zap.String("cache_key", tokenKey), zap.Error(err))
	}
}
