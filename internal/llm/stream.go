package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ChatCompletionStream starts a streaming completion. Connection and upstream
// errors are delivered on the channel, which is closed when the stream ends.
func (c *client) ChatCompletionStream(parentCtx context.Context, req *ChatRequest) (<-chan StreamResult, error) {
	if err := c.prepareChat(req); err != nil {
		return nil, err
	}

	c.logger.Debug("llm stream request starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	ctx, cancel := c.withTimeout(parentCtx)

	results := make(chan StreamResult, 16)

	go func() {
		defer close(results)
		defer cancel()

		bodyBytes, err := marshalBounded(newProviderChatRequest(req, true))
		if err != nil {
			sendResult(ctx, results, StreamResult{Err: err})
			return
		}

		// Connect with retries (no mid-stream retries)
		resp, err := c.post(ctx, "/v1/chat/completions", bodyBytes)
		if err != nil {
			c.logger.Error("llm stream connect failed",
				zap.String("model", req.Model),
				zap.Error(err),
			)
			sendResult(ctx, results, StreamResult{Err: err})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			sendResult(ctx, results, StreamResult{Err: c.upstreamError(resp, "stream")})
			return
		}

		reader := bufio.NewReader(resp.Body)
		chunkCount := 0

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("llm stream cancelled",
					zap.String("model", req.Model),
					zap.Error(ctx.Err()),
				)
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					c.logger.Info("llm stream completed (EOF)",
						zap.String("model", req.Model),
						zap.Int("chunks", chunkCount),
					)
					return
				}
				sendResult(ctx, results, StreamResult{Err: fmt.Errorf("llmclient: read stream line: %w", err)})
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			const prefix = "data: "
			if !bytes.HasPrefix(line, []byte(prefix)) {
				continue
			}

			payload := bytes.TrimSpace(line[len(prefix):])

			if bytes.Equal(payload, []byte("[DONE]")) {
				c.logger.Info("llm stream received [DONE]",
					zap.String("model", req.Model),
					zap.Int("chunks", chunkCount),
				)
				return
			}

			var chunk providerStreamChunk
			if err := json.Unmarshal(payload, &chunk); err != nil {
				sendResult(ctx, results, StreamResult{Err: fmt.Errorf("llmclient: unmarshal stream chunk: %w", err)})
				return
			}

			for _, choice := range chunk.Choices {
				deltaText := choice.Delta.Content
				if deltaText == "" && choice.FinishReason == "" {
					continue
				}

				sc := &StreamChunk{
					Index:        choice.Index,
					Delta:        deltaText,
					FinishReason: choice.FinishReason,
				}
				chunkCount++

				select {
				case <-ctx.Done():
					c.logger.Info("llm stream cancelled while sending chunk",
						zap.String("model", req.Model),
						zap.Int("chunks", chunkCount),
						zap.Error(ctx.Err()),
					)
					return
				case results <- StreamResult{Chunk: sc}:
				}
			}
		}
	}()

	return results, nil
}

// sendResult delivers r unless ctx ends first, so an abandoned stream never
// blocks its producer.
func sendResult(ctx context.Context, results chan<- StreamResult, r StreamResult) {
	select {
	case results <- r:
		return
	default:
	}
	select {
	case results <- r:
	case <-ctx.Done():
	}
}
