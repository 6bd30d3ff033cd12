package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"search-api/internal/cache"
	"search-api/internal/config"
	"search-api/internal/handlers"
	"search-api/internal/httpserver"
	"search-api/internal/llm"
	"search-api/internal/metrics"
	"search-api/internal/search"
	"search-api/internal/suggestion"
	"search-api/internal/vectorindex"
	"search-api/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("search-api exited with error: %v", err)
	}
}

func run() error {
	// ----- Config -----
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ----- Logger -----
	logger, err := logging.NewLogger(logging.Options{
		Env:     cfg.Log.Env,
		Level:   cfg.Log.Level,
		Service: "search-api",
	})
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("qdrant_collection", cfg.Qdrant.Collection),
		zap.Bool("suggestion_streaming", cfg.Suggestion.Streaming),
	)

	deps := map[string]handlers.Pinger{}

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))

		deps["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// ----- Cache shared by both phases -----
	store := cache.New[search.Result](cache.Config{
		Backend:         cfg.Cache.Backend,
		DefaultTTL:      cfg.Cache.ResultTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
		Prefix:          cfg.Cache.Prefix,
		Shards:          cfg.Cache.Shards,
	}, redisClient)
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	store = cache.NewLogging(store)

	// ----- LLM client -----
	llmClient, err := llm.NewFromConfig(llm.ProviderConfig{
		Provider:        cfg.LLM.Provider,
		BaseURL:         cfg.LLM.URL,
		APIKey:          cfg.LLM.Key,
		APIVersion:      cfg.LLM.APIVersion,
		ChatModel:       cfg.LLM.ChatModel,
		EmbeddingModel:  cfg.LLM.EmbeddingModel,
		UpstreamTimeout: cfg.LLM.UpstreamTimeout,
		MaxRetries:      cfg.LLM.HTTPMaxRetries,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := llmClient.(io.Closer); ok {
		defer closer.Close()
	}

	// ----- Vector index -----
	index, err := vectorindex.NewQdrant(vectorindex.QdrantConfig{
		BaseURL:    cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
	}, logger)
	if err != nil {
		return err
	}
	defer index.Close()
	deps["qdrant"] = index

	// ----- Orchestrators -----
	searchSvc := search.NewService(store, llmClient, index, search.Config{
		ResultTTL:     cfg.Cache.ResultTTL,
		SuggestionTTL: cfg.Cache.SuggestionTTL,
		FlightTimeout: cfg.Server.SearchTimeout,
	})
	suggestionSvc := suggestion.NewService(store, llmClient, suggestion.Config{
		TTL:         cfg.Cache.SuggestionTTL,
		MaxAttempts: cfg.Suggestion.MaxAttempts,
		Backoff:     cfg.Suggestion.Backoff,
		Streaming:   cfg.Suggestion.Streaming,
	})

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Handlers{
		Search:     handlers.NewSearchHandler(searchSvc),
		Suggestion: handlers.NewSuggestionHandler(suggestionSvc, cfg.Suggestion.EvictOnDisconnect),
		Health:     handlers.NewHealthHandler(deps),
	}, cfg.Server.SearchTimeout)

	// ----- HTTP server -----
	// No WriteTimeout: suggestion streams are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting search-api", zap.String("addr", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
