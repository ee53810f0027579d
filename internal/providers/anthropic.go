package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// AnthropicClient talks to the Anthropic messages API.
type AnthropicClient struct {
	baseURL string
	keys    KeySource
	http    *http.Client
	policy  RetryPolicy
	logger  *slog.Logger
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(keys KeySource, timeout time.Duration, policy RetryPolicy, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &AnthropicClient{
		baseURL: anthropicBaseURL,
		keys:    keys,
		http:    &http.Client{Timeout: timeout},
		policy:  policy,
		logger:  logger,
	}
}

// WithBaseURL overrides the API base URL, used by tests.
func (c *AnthropicClient) WithBaseURL(baseURL string) *AnthropicClient {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *AnthropicClient) Name() string { return NameAnthropic }

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage anthropicUsage `json:"usage"`
}

// buildRequest splits out system messages: Anthropic takes them as a
// top-level field rather than in the message list.
func (c *AnthropicClient) buildRequest(req CompletionRequest, stream bool) anthropicRequest {
	out := anthropicRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

// Complete performs a blocking chat completion.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var out *CompletionResponse
	err := withRetry(ctx, c.policy, c.logger, func() error {
		resp, err := c.complete(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *AnthropicClient) complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := c.do(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding anthropic response: %w", err)
	}

	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content: content.String(),
		Model:   parsed.Model,
		Usage: Usage{
			TokensIn:  parsed.Usage.InputTokens,
			TokensOut: parsed.Usage.OutputTokens,
		},
	}, nil
}

// Stream performs a streaming completion over the messages event stream.
func (c *AnthropicClient) Stream(ctx context.Context, req CompletionRequest, handler ChunkHandler) (*CompletionResponse, error) {
	body, err := c.do(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var content strings.Builder
	var usage Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("decoding anthropic stream event: %w", err)
		}

		switch event.Type {
		case "message_start":
			usage.TokensIn = event.Message.Usage.InputTokens
		case "content_block_delta":
			if event.Delta.Type != "text_delta" || event.Delta.Text == "" {
				continue
			}
			content.WriteString(event.Delta.Text)
			if err := handler(Chunk{Delta: event.Delta.Text}); err != nil {
				return nil, err
			}
		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				usage.TokensOut = event.Usage.OutputTokens
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading anthropic stream: %w", err)
	}

	if err := handler(Chunk{Done: true, Usage: &usage}); err != nil {
		return nil, err
	}
	return &CompletionResponse{Content: content.String(), Model: req.Model, Usage: usage}, nil
}

func (c *AnthropicClient) do(ctx context.Context, payload anthropicRequest) (io.ReadCloser, error) {
	key, err := c.keys.ResolveAPIKey(NameAnthropic)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", key)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling anthropic: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(NameAnthropic, resp)
	}
	return resp.Body, nil
}
