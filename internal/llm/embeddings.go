package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Embed calls /v1/embeddings and returns the first vector.
func (c *client) Embed(parentCtx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("llmclient: request is nil")
	}
	if req.Model == "" {
		req.Model = c.cfg.EmbeddingModel
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: invalid embedding request: %w", err)
	}

	ctx, cancel := c.withTimeout(parentCtx)
	defer cancel()

	bodyBytes, err := marshalBounded(providerEmbeddingRequest{
		Model: req.Model,
		Input: req.Input,
		User:  req.User,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, "/v1/embeddings", bodyBytes)
	if err != nil {
		c.logger.Error("llm embedding request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.upstreamError(resp, "embeddings")
	}

	var pResp providerEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("llmclient: decode embedding response: %w", err)
	}
	if len(pResp.Data) == 0 {
		return nil, fmt.Errorf("llmclient: provider returned no embeddings")
	}

	out := &EmbeddingResponse{
		Model:  pResp.Model,
		Vector: pResp.Data[0].Embedding,
		Usage:  &Usage{},
	}
	if pResp.Usage != nil {
		out.Usage.PromptTokens = pResp.Usage.PromptTokens
		out.Usage.TotalTokens = pResp.Usage.TotalTokens
	}

	c.logger.Debug("llm embedding completed",
		zap.String("model", out.Model),
		zap.Int("dimensions", len(out.Vector)),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}
