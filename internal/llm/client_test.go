package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
}

func TestChatCompletionSuccess(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}

		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}

		resp := providerChatResponse{
			ID:      "chatcmpl-1",
			Object:  "chat.completion",
			Created: time.Unix(1_700_000_000, 0).Unix(),
			Model:   "gpt-4",
			Choices: []providerChatChoice{
				{
					Index: 0,
					Message: ChatMessage{
						Role:    RoleAssistant,
						Content: "response",
					},
					FinishReason: "stop",
				},
			},
			Usage: &providerUsage{
				PromptTokens:     3,
				CompletionTokens: 2,
				TotalTokens:      5,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	req := &ChatRequest{
		Model: "gpt-4",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "ping"},
		},
		Temperature: 0.3,
		TopP:        0.9,
		MaxTokens:   50,
		User:        "5f4dcc3b",
	}

	resp, err := client.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReq.Stream {
		t.Fatalf("non-stream request should not set stream=true")
	}
	if gotReq.Model != req.Model {
		t.Fatalf("expected model %s, got %s", req.Model, gotReq.Model)
	}
	if gotReq.User != "5f4dcc3b" {
		t.Fatalf("expected user tag to be forwarded, got %q", gotReq.User)
	}
	if len(gotReq.Messages) != len(req.Messages) || gotReq.Messages[0].Content != "ping" {
		t.Fatalf("unexpected request messages: %#v", gotReq.Messages)
	}

	if resp == nil || len(resp.Choices) != 1 {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if resp.Choices[0].Message.Content != "response" {
		t.Fatalf("unexpected response message: %#v", resp.Choices[0].Message)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage not mapped correctly: %#v", resp.Usage)
	}
}

func TestChatCompletionValidationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("server should not be called for invalid request")
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "key",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	_, err = client.ChatCompletion(context.Background(), &ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "invalid request") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChatCompletionStream(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("response writer does not support flushing")
		}

		chunks := []string{
			`{"choices":[{"index":0,"delta":{"content":"hel"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		}

		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "stream-key",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	req := &ChatRequest{
		Model: "gpt-4o",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "hello"},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.ChatCompletionStream(ctx, req)
	if err != nil {
		t.Fatalf("ChatCompletionStream: %v", err)
	}

	var deltas strings.Builder
	var finishReason string

	for res := range stream {
		if res.Err != nil {
			t.Fatalf("received stream error: %v", res.Err)
		}
		if res.Chunk == nil {
			continue
		}

		deltas.WriteString(res.Chunk.Delta)
		if res.Chunk.FinishReason != "" {
			finishReason = res.Chunk.FinishReason
		}
	}

	if !gotReq.Stream {
		t.Fatalf("stream requests must set stream=true")
	}
	if gotReq.Model != req.Model {
		t.Fatalf("expected model %s, got %s", req.Model, gotReq.Model)
	}
	if gotReq.Messages[0].Content != "hello" {
		t.Fatalf("unexpected request body: %#v", gotReq.Messages)
	}

	if deltas.String() != "hello" {
		t.Fatalf("unexpected stream deltas: %s", deltas.String())
	}
	if finishReason != "stop" {
		t.Fatalf("unexpected finish reason: %s", finishReason)
	}
}

func TestChatCompletionUsesDefaultModel(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:   srv.URL + "/",
		APIKey:    "key",
		ChatModel: "gpt-35-turbo",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	resp, err := client.ChatCompletion(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "ping"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if gotReq.Model != "gpt-35-turbo" {
		t.Fatalf("expected default model, got %q", gotReq.Model)
	}
	if resp.Text() != "ok" {
		t.Fatalf("unexpected text: %q", resp.Text())
	}
}

func TestChatCompletionUpstreamError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:   srv.URL,
		APIKey:    "key",
		ChatModel: "gpt-4",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	_, err = client.ChatCompletion(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "ping"}},
	})
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("expected provider error message, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt with retries disabled, got %d", got)
	}
}

func TestChatCompletionRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"third"}}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:     srv.URL,
		APIKey:      "key",
		ChatModel:   "gpt-4",
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	resp, err := client.ChatCompletion(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "ping"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got := calls.Load(); got != 3 || resp.Text() != "third" {
		t.Fatalf("expected success on third call, calls=%d text=%q", got, resp.Text())
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	var gotReq providerEmbeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","model":"ada","data":[{"index":0,"embedding":[0.25,-0.5,1]}],"usage":{"prompt_tokens":4,"total_tokens":4}}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:        srv.URL,
		APIKey:         "key",
		EmbeddingModel: "text-embedding-ada-002",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	resp, err := client.Embed(context.Background(), &EmbeddingRequest{Input: "golang workshop", User: "abc"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotReq.Model != "text-embedding-ada-002" || gotReq.Input != "golang workshop" || gotReq.User != "abc" {
		t.Fatalf("unexpected request: %#v", gotReq)
	}
	if len(resp.Vector) != 3 || resp.Vector[1] != -0.5 {
		t.Fatalf("unexpected vector: %v", resp.Vector)
	}
}

func TestEmbedValidationError(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:1", APIKey: "key", EmbeddingModel: "ada"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	if _, err := client.Embed(context.Background(), &EmbeddingRequest{}); err == nil {
		t.Fatalf("expected validation error for empty input")
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewFromConfig(ProviderConfig{Provider: "bard"}, nil); err == nil {
		t.Fatalf("expected error for unknown provider")
	}

	c, err := NewFromConfig(ProviderConfig{Provider: ProviderOpenAI, BaseURL: "http://localhost", APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("openai provider: %v", err)
	}
	if _, ok := c.(*client); !ok {
		t.Fatalf("expected HTTP client, got %T", c)
	}

	c, err = NewFromConfig(ProviderConfig{
		Provider:       ProviderAzure,
		BaseURL:        "https://example.openai.azure.com",
		APIKey:         "k",
		ChatModel:      "chat-dep",
		EmbeddingModel: "embed-dep",
	}, nil)
	if err != nil {
		t.Fatalf("azure provider: %v", err)
	}
	if _, ok := c.(*azureClient); !ok {
		t.Fatalf("expected azure client, got %T", c)
	}
}

func TestNewFromConfigRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"index":0,"embedding":[0.5,0.25]}]}`)
	}))
	defer srv.Close()

	c, err := NewFromConfig(ProviderConfig{
		Provider:       ProviderOpenAI,
		BaseURL:        srv.URL,
		APIKey:         "k",
		EmbeddingModel: "ada",
		MaxRetries:     2,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer closeClient(c)

	resp, err := c.Embed(context.Background(), &EmbeddingRequest{Input: "golang"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := calls.Load(); got != 3 || len(resp.Vector) != 2 {
		t.Fatalf("expected success on third call, calls=%d vector=%v", got, resp.Vector)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"0", 0},
		{"100000", 5 * time.Minute},
		{"soon", 0},
	}
	for _, tt := range tests {
		resp := &http.Response{Header: http.Header{}}
		if tt.header != "" {
			resp.Header.Set("Retry-After", tt.header)
		}
		if got := parseRetryAfter(resp); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
	if got := parseRetryAfter(nil); got != 0 {
		t.Errorf("parseRetryAfter(nil) = %v", got)
	}
}

func TestAzureChatAndEmbed(t *testing.T) {
	t.Parallel()

	var paths []string
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		apiKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","model":"gpt-35","choices":[{"index":0,"message":{"role":"assistant","content":"azure says hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":3,"total_tokens":4}}`)
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			_, _ = io.WriteString(w, `{"object":"list","model":"ada","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2]}],"usage":{"prompt_tokens":2,"total_tokens":2}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewAzureClient(AzureConfig{
		Endpoint:            srv.URL,
		APIKey:              "azure-key",
		ChatDeployment:      "chat-dep",
		EmbeddingDeployment: "embed-dep",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewAzureClient: %v", err)
	}

	resp, err := c.ChatCompletion(context.Background(), &ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Text() != "azure says hi" {
		t.Fatalf("unexpected text: %q", resp.Text())
	}

	emb, err := c.Embed(context.Background(), &EmbeddingRequest{Input: "hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(emb.Vector) != 2 {
		t.Fatalf("unexpected vector: %v", emb.Vector)
	}

	if apiKey != "azure-key" {
		t.Fatalf("expected api-key header, got %q", apiKey)
	}
	if len(paths) != 2 ||
		!strings.Contains(paths[0], "/openai/deployments/chat-dep/") ||
		!strings.Contains(paths[1], "/openai/deployments/embed-dep/") {
		t.Fatalf("unexpected deployment paths: %v", paths)
	}
}

func closeClient(c Client) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
