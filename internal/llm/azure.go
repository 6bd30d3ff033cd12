package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const defaultAzureAPIVersion = "2023-05-15"

// AzureConfig describes an Azure OpenAI resource. Chat and embeddings are
// served by separate deployments.
type AzureConfig struct {
	Endpoint            string // https://<resource>.openai.azure.com
	APIKey              string
	APIVersion          string
	ChatDeployment      string
	EmbeddingDeployment string
	UpstreamTimeout     time.Duration
	HTTPClient          *http.Client
}

func (c *AzureConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("Endpoint is required")
	}
	if c.APIKey == "" {
		return errors.New("APIKey is required")
	}
	if c.ChatDeployment == "" {
		return errors.New("ChatDeployment is required")
	}
	if c.EmbeddingDeployment == "" {
		return errors.New("EmbeddingDeployment is required")
	}
	return nil
}

type azureClient struct {
	api     *openai.Client
	cfg     AzureConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewAzureClient creates a Client backed by go-openai's Azure mode. Request
// models are ignored: the configured deployments are always used.
func NewAzureClient(cfg AzureConfig, logger *zap.Logger) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid azure config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAzureAPIVersion
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}

	apiCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	apiCfg.APIVersion = cfg.APIVersion
	apiCfg.AzureModelMapperFunc = func(model string) string {
		if model == cfg.EmbeddingDeployment {
			return cfg.EmbeddingDeployment
		}
		return cfg.ChatDeployment
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}

	return &azureClient{
		api:     openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		timeout: cfg.UpstreamTimeout,
		logger:  logger.Named("azureopenai"),
	}, nil
}

func toOpenAIRequest(req *ChatRequest, deployment string) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       deployment,
		Messages:    msgs,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		User:        req.User,
	}
}

func (c *azureClient) validate(req *ChatRequest) error {
	if req == nil {
		return fmt.Errorf("azureopenai: request is nil")
	}
	req.Model = c.cfg.ChatDeployment
	if err := req.Validate(); err != nil {
		return fmt.Errorf("azureopenai: invalid request: %w", err)
	}
	return nil
}

func (c *azureClient) ChatCompletion(parentCtx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	if err := c.validate(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, toOpenAIRequest(req, c.cfg.ChatDeployment))
	if err != nil {
		c.logger.Error("azure chat completion failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("azureopenai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("azureopenai: provider returned no choices")
	}

	out := &ChatResponse{
		ID:      resp.ID,
		Created: time.Unix(resp.Created, 0),
		Model:   resp.Model,
		Choices: make([]ChatChoice, 0, len(resp.Choices)),
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, ch := range resp.Choices {
		out.Choices = append(out.Choices, ChatChoice{
			Index:        ch.Index,
			Message:      ChatMessage{Role: ch.Message.Role, Content: ch.Message.Content},
			FinishReason: string(ch.FinishReason),
		})
	}

	c.logger.Info("azure chat completion completed",
		zap.String("deployment", c.cfg.ChatDeployment),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (c *azureClient) ChatCompletionStream(parentCtx context.Context, req *ChatRequest) (<-chan StreamResult, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.timeout)
	results := make(chan StreamResult, 16)

	go func() {
		defer close(results)
		defer cancel()

		stream, err := c.api.CreateChatCompletionStream(ctx, toOpenAIRequest(req, c.cfg.ChatDeployment))
		if err != nil {
			c.logger.Error("azure stream connect failed", zap.Error(err))
			sendResult(ctx, results, StreamResult{Err: fmt.Errorf("azureopenai: open stream: %w", err)})
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sendResult(ctx, results, StreamResult{Err: fmt.Errorf("azureopenai: read stream: %w", err)})
				return
			}

			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" && choice.FinishReason == "" {
					continue
				}
				sc := &StreamChunk{
					Index:        choice.Index,
					Delta:        choice.Delta.Content,
					FinishReason: string(choice.FinishReason),
				}
				select {
				case <-ctx.Done():
					return
				case results <- StreamResult{Chunk: sc}:
				}
			}
		}
	}()

	return results, nil
}

func (c *azureClient) Embed(parentCtx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("azureopenai: request is nil")
	}
	req.Model = c.cfg.EmbeddingDeployment
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("azureopenai: invalid embedding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{req.Input},
		Model: openai.EmbeddingModel(c.cfg.EmbeddingDeployment),
		User:  req.User,
	})
	if err != nil {
		return nil, fmt.Errorf("azureopenai: embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("azureopenai: provider returned no embeddings")
	}

	return &EmbeddingResponse{
		Model:  string(resp.Model),
		Vector: resp.Data[0].Embedding,
		Usage: &Usage{
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}
