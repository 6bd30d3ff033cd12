package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"search-api/pkg/logging/logging"
)

type failingStore[V any] struct{}

func (failingStore[V]) Get(context.Context, string) (V, bool, error) {
	var zero V
	return zero, false, errors.New("boom")
}

func (failingStore[V]) Set(context.Context, string, V, time.Duration) error {
	return errors.New("boom")
}

func (failingStore[V]) Delete(context.Context, string) error { return errors.New("boom") }

func TestLoggingDecorator(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logging.WithLogger(context.Background(), zap.New(core))

	inner := NewMemory[string](time.Minute, WithCleanupInterval(0))
	defer inner.Close()
	c := NewLogging[string](inner)
	assert.Same(t, inner, c.Unwrap())

	_, ok, err := c.Get(ctx, "search:go-10")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Set(ctx, "search:go-10", "v", 0))
	v, ok, err := c.Get(ctx, "search:go-10")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	require.NoError(t, c.Delete(ctx, "token:abc"))

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "cache_get", entries[0].Message)
	assert.Equal(t, "miss", entries[0].ContextMap()["cache_result"])
	assert.Equal(t, "search", entries[0].ContextMap()["cache_namespace"])
	assert.Equal(t, "cache_set", entries[1].Message)
	assert.Equal(t, "hit", entries[2].ContextMap()["cache_result"])
	assert.Equal(t, "token", entries[3].ContextMap()["cache_namespace"])
}

func TestLoggingDecoratorErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logging.WithLogger(context.Background(), zap.New(core))

	c := NewLogging[string](failingStore[string]{})

	_, ok, err := c.Get(ctx, "nonamespace")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.Set(ctx, "token:x", "v", 0))

	errs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errs, 2)
	assert.Equal(t, "none", errs[0].ContextMap()["cache_namespace"])
	assert.Equal(t, "error", errs[1].ContextMap()["cache_result"])
}
