// Package suggestion redeems suggestion tokens: it rebuilds a grounded prompt
// from the cached search result and streams the generated answer.
package suggestion

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"search-api/internal/cache"
	"search-api/internal/keys"
	"search-api/internal/llm"
	"search-api/internal/metrics"
	"search-api/internal/retry"
	"search-api/internal/search"
	"search-api/pkg/logging/logging"
)

// ErrNotFound is returned for unknown or expired tokens.
var ErrNotFound = errors.New("suggestion not found or expired")

// Event is one piece of generated text, or the error that ended the stream.
type Event struct {
	Delta string
	Err   error
}

type Config struct {
	// TTL is the sliding lifetime of a token entry, renewed on every redemption.
	TTL         time.Duration
	MaxAttempts int           // generation attempts; 0 means retry.DefaultMaxAttempts
	Backoff     time.Duration // base backoff between attempts; 0 retries immediately
	// Streaming selects the upstream streaming API. When false the completion
	// is fetched whole and emitted as a single event.
	Streaming bool
}

type Service struct {
	cache     cache.Store[search.Result]
	completer llm.Completer
	cfg       Config
	now       func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now in prompts.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store cache.Store[search.Result], completer llm.Completer, cfg Config, opts ...Option) *Service {
	s := &Service{
		cache:     store,
		completer: completer,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Redeem looks up token and starts generating. It returns ErrNotFound for an
// unknown or expired token, or the last generation error once the attempt
// budget is spent. The returned channel is closed after the final event.
func (s *Service) Redeem(ctx context.Context, token, user string) (<-chan Event, error) {
	logger := logging.L(ctx)
	key := keys.Token(token)

	res, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("token_cache_get_error", zap.Error(err))
	}
	if !ok {
		metrics.SuggestionsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	req := llm.ChatRequest{
		Messages: Messages(res, s.now()),
		User:     keys.Anonymize(user),
	}

	var events <-chan Event
	if s.cfg.Streaming {
		events, err = s.stream(ctx, req)
	} else {
		events, err = s.complete(ctx, req)
	}
	if err != nil {
		metrics.SuggestionsTotal.WithLabelValues("error").Inc()
		logger.Error("suggestion_generation_failed", zap.Error(err))
		return nil, err
	}

	// Sliding window: the token stays redeemable for another TTL.
	if err := s.cache.Set(context.WithoutCancel(ctx), key, res, s.cfg.TTL); err != nil {
		logger.Warn("token_cache_refresh_error", zap.Error(err))
	}

	metrics.SuggestionsTotal.WithLabelValues("ok").Inc()
	logger.Info("suggestion_started",
		zap.Int("answers", len(res.Answers)),
		zap.Bool("streaming", s.cfg.Streaming),
	)
	return events, nil
}

// Forget evicts the token early. Used when the client goes away mid-stream.
func (s *Service) Forget(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, keys.Token(token))
}

func (s *Service) retryOptions(ctx context.Context) []retry.Option {
	opts := []retry.Option{
		retry.WithOnRetry(func(attempt int, err error) {
			metrics.GenerationRetriesTotal.Inc()
			logging.L(ctx).Warn("generation_attempt_failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}),
	}
	if s.cfg.Backoff > 0 {
		opts = append(opts, retry.WithBackoff(s.cfg.Backoff))
	}
	return opts
}

func (s *Service) complete(ctx context.Context, req llm.ChatRequest) (<-chan Event, error) {
	text, err := retry.Do(ctx, s.cfg.MaxAttempts, func(ctx context.Context) (string, error) {
		attempt := req
		resp, err := s.completer.ChatCompletion(ctx, &attempt)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}, s.retryOptions(ctx)...)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 1)
	out <- Event{Delta: text}
	close(out)
	return out, nil
}

// opened is an upstream stream whose first result has been read.
type opened struct {
	first *llm.StreamChunk
	rest  <-chan llm.StreamResult
}

// stream opens the upstream stream under the retry budget. An attempt only
// counts as successful once the first chunk (or a clean end) arrives, so a
// failure before any text is produced is retried. Errors after that are
// forwarded to the caller as the final event.
func (s *Service) stream(ctx context.Context, req llm.ChatRequest) (<-chan Event, error) {
	o, err := retry.Do(ctx, s.cfg.MaxAttempts, func(ctx context.Context) (opened, error) {
		attempt := req
		upstream, err := s.completer.ChatCompletionStream(ctx, &attempt)
		if err != nil {
			return opened{}, err
		}
		select {
		case first, ok := <-upstream:
			if !ok {
				return opened{}, nil
			}
			if first.Err != nil {
				return opened{}, first.Err
			}
			return opened{first: first.Chunk, rest: upstream}, nil
		case <-ctx.Done():
			return opened{}, ctx.Err()
		}
	}, s.retryOptions(ctx)...)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)

		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if o.first != nil && o.first.Delta != "" {
			if !send(Event{Delta: o.first.Delta}) {
				return
			}
		}
		if o.rest == nil {
			return
		}
		for r := range o.rest {
			if r.Err != nil {
				send(Event{Err: r.Err})
				return
			}
			if r.Chunk == nil || r.Chunk.Delta == "" {
				continue
			}
			if !send(Event{Delta: r.Chunk.Delta}) {
				return
			}
		}
	}()
	return out, nil
}
