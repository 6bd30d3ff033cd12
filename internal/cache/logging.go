package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"search-api/internal/keys"
	"search-api/internal/metrics"
	"search-api/pkg/logging/logging"
)

// Logging wraps a Store with structured logs and Prometheus counters.
type Logging[V any] struct {
	inner Store[V]
}

// NewLogging returns a Store that logs and records metrics around inner.
func NewLogging[V any](inner Store[V]) *Logging[V] {
	return &Logging[V]{inner: inner}
}

// Unwrap returns the decorated store.
func (c *Logging[V]) Unwrap() Store[V] {
	return c.inner
}

func (c *Logging[V]) Get(ctx context.Context, key string) (V, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	elapsed := time.Since(start)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	c.observe(ctx, "get", key, result, elapsed, err)

	return value, ok, err
}

func (c *Logging[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.observe(ctx, "set", key, result, time.Since(start), err, zap.Duration("ttl", ttl))

	return err
}

func (c *Logging[V]) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.inner.Delete(ctx, key)

	result := "ok"
	if err != nil {
		result = "error"
	}
	c.observe(ctx, "delete", key, result, time.Since(start), err)

	return err
}

func (c *Logging[V]) observe(ctx context.Context, op, key, result string, elapsed time.Duration, err error, extra ...zap.Field) {
	namespace := keys.Namespace(key)
	if namespace == "" {
		namespace = "none"
	}

	metrics.CacheOperationsTotal.WithLabelValues(namespace, op, result).Inc()
	metrics.CacheLatencySeconds.WithLabelValues(op).Observe(elapsed.Seconds())

	fields := append([]zap.Field{
		zap.String("cache_namespace", namespace),
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | ok | error
		zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
	}, extra...)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_"+op, append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("cache_"+op, fields...)
}
