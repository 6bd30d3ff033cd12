package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// ProviderConfig is the backend-neutral client configuration. For Azure the
// model IDs are deployment names.
type ProviderConfig struct {
	Provider        string
	BaseURL         string
	APIKey          string
	APIVersion      string // azure only
	ChatModel       string
	EmbeddingModel  string
	UpstreamTimeout time.Duration
	// MaxRetries applies to the OpenAI-compatible client. The Azure SDK
	// client keeps its own retry policy.
	MaxRetries int
}

// NewFromConfig builds the Client for cfg.Provider. An empty provider means
// the OpenAI-compatible HTTP client.
func NewFromConfig(cfg ProviderConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewClient(Config{
			BaseURL:         cfg.BaseURL,
			APIKey:          cfg.APIKey,
			ChatModel:       cfg.ChatModel,
			EmbeddingModel:  cfg.EmbeddingModel,
			UpstreamTimeout: cfg.UpstreamTimeout,
			MaxRetries:      cfg.MaxRetries,
		}, logger)
	case ProviderAzure:
		return NewAzureClient(AzureConfig{
			Endpoint:            cfg.BaseURL,
			APIKey:              cfg.APIKey,
			APIVersion:          cfg.APIVersion,
			ChatDeployment:      cfg.ChatModel,
			EmbeddingDeployment: cfg.EmbeddingModel,
			UpstreamTimeout:     cfg.UpstreamTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
