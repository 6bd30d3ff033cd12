// Package config loads service settings from the environment, with an
// optional dotenv file underneath.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Cache      CacheConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Qdrant     QdrantConfig
	Suggestion SuggestionConfig
}

type ServerConfig struct {
	Port          string
	SearchTimeout time.Duration
}

type LogConfig struct {
	Env   string
	Level string
}

type CacheConfig struct {
	Backend         string // "memory" or "redis"
	Prefix          string
	ResultTTL       time.Duration
	SuggestionTTL   time.Duration
	CleanupInterval time.Duration
	Shards          int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LLMConfig struct {
	Provider        string // "openai" or "azure"
	URL             string
	Key             string
	ChatModel       string
	EmbeddingModel  string
	APIVersion      string
	UpstreamTimeout time.Duration
	HTTPMaxRetries  int // openai only; azure retries inside its SDK
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
}

type SuggestionConfig struct {
	MaxAttempts       int
	Backoff           time.Duration
	Streaming         bool
	EvictOnDisconnect bool
}

var defaults = map[string]any{
	"PORT":                           "8080",
	"ENV":                            "production",
	"LOG_LEVEL":                      "info",
	"SEARCH_TIMEOUT":                 "15s",
	"CACHE_BACKEND":                  "memory",
	"CACHE_PREFIX":                   "search-api",
	"CACHE_TTL":                      "24h",
	"SUGGESTION_TTL":                 "10m",
	"CACHE_CLEANUP_INTERVAL":         "1m",
	"CACHE_SHARDS":                   32,
	"REDIS_ADDR":                     "127.0.0.1:6379",
	"REDIS_PASSWORD":                 "",
	"REDIS_DB":                       0,
	"LLM_PROVIDER":                   "azure",
	"OPENAI_URL":                     "",
	"OPENAI_KEY":                     "",
	"OPENAI_GPT_ID":                  "gpt-35-turbo",
	"OPENAI_ADA_ID":                  "text-embedding-ada-002",
	"OPENAI_API_VERSION":             "2023-05-15",
	"UPSTREAM_TIMEOUT":               "30s",
	"LLM_HTTP_MAX_RETRIES":           0,
	"RETRY_MAX_ATTEMPTS":             3,
	"RETRY_BACKOFF":                  "0s",
	"SUGGESTION_STREAMING":           true,
	"SUGGESTION_EVICT_ON_DISCONNECT": false,
	"QDRANT_URL":                     "",
	"QDRANT_API_KEY":                 "",
	"QDRANT_COLLECTION":              "workshops",
}

// Load reads envFile (if it exists) and the process environment; the
// environment wins. An empty envFile skips the file.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("PORT"),
			SearchTimeout: parseDuration(v, "SEARCH_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Env:   v.GetString("ENV"),
			Level: v.GetString("LOG_LEVEL"),
		},
		Cache: CacheConfig{
			Backend:         strings.ToLower(v.GetString("CACHE_BACKEND")),
			Prefix:          v.GetString("CACHE_PREFIX"),
			ResultTTL:       parseDuration(v, "CACHE_TTL", 24*time.Hour),
			SuggestionTTL:   parseDuration(v, "SUGGESTION_TTL", 10*time.Minute),
			CleanupInterval: parseDuration(v, "CACHE_CLEANUP_INTERVAL", time.Minute),
			Shards:          v.GetInt("CACHE_SHARDS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		LLM: LLMConfig{
			Provider:        strings.ToLower(v.GetString("LLM_PROVIDER")),
			URL:             v.GetString("OPENAI_URL"),
			Key:             v.GetString("OPENAI_KEY"),
			ChatModel:       v.GetString("OPENAI_GPT_ID"),
			EmbeddingModel:  v.GetString("OPENAI_ADA_ID"),
			APIVersion:      v.GetString("OPENAI_API_VERSION"),
			UpstreamTimeout: parseDuration(v, "UPSTREAM_TIMEOUT", 30*time.Second),
			HTTPMaxRetries:  v.GetInt("LLM_HTTP_MAX_RETRIES"),
		},
		Qdrant: QdrantConfig{
			URL:        v.GetString("QDRANT_URL"),
			APIKey:     v.GetString("QDRANT_API_KEY"),
			Collection: v.GetString("QDRANT_COLLECTION"),
		},
		Suggestion: SuggestionConfig{
			MaxAttempts:       v.GetInt("RETRY_MAX_ATTEMPTS"),
			Backoff:           parseDuration(v, "RETRY_BACKOFF", 0),
			Streaming:         v.GetBool("SUGGESTION_STREAMING"),
			EvictOnDisconnect: v.GetBool("SUGGESTION_EVICT_ON_DISCONNECT"),
		},
	}
	return cfg, nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	switch {
	case c.LLM.Key == "":
		return errors.New("OPENAI_KEY is required")
	case c.LLM.URL == "":
		return errors.New("OPENAI_URL is required")
	case c.Qdrant.URL == "":
		return errors.New("QDRANT_URL is required")
	case c.Cache.Backend != "memory" && c.Cache.Backend != "redis":
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	case c.Suggestion.MaxAttempts < 1:
		return errors.New("RETRY_MAX_ATTEMPTS must be at least 1")
	case c.LLM.HTTPMaxRetries < 0:
		return errors.New("LLM_HTTP_MAX_RETRIES must not be negative")
	}
	return nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
