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
	openAIBaseURL = "https://api.openai.com/v1"
	groqBaseURL   = "https://api.groq.com/openai/v1"
)

// OpenAIClient talks to the OpenAI chat completions API. Groq exposes
// the same wire format, so NewGroq returns this client with Groq's base
// URL and name.
type OpenAIClient struct {
	name    string
	baseURL string
	keys    KeySource
	http    *http.Client
	policy  RetryPolicy
	logger  *slog.Logger
}

// NewOpenAI creates an OpenAI client.
func NewOpenAI(keys KeySource, timeout time.Duration, policy RetryPolicy, logger *slog.Logger) *OpenAIClient {
	return newOpenAICompatible(NameOpenAI, openAIBaseURL, keys, timeout, policy, logger)
}

// NewGroq creates a Groq client over the OpenAI-compatible endpoint.
func NewGroq(keys KeySource, timeout time.Duration, policy RetryPolicy, logger *slog.Logger) *OpenAIClient {
	return newOpenAICompatible(NameGroq, groqBaseURL, keys, timeout, policy, logger)
}

func newOpenAICompatible(name, baseURL string, keys KeySource, timeout time.Duration, policy RetryPolicy, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIClient{
		name:    name,
		baseURL: baseURL,
		keys:    keys,
		http:    &http.Client{Timeout: timeout},
		policy:  policy,
		logger:  logger,
	}
}

// WithBaseURL overrides the API base URL, used by tests.
func (c *OpenAIClient) WithBaseURL(baseURL string) *OpenAIClient {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *OpenAIClient) Name() string { return c.name }

type openAIChatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

// Complete performs a blocking chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
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

func (c *OpenAIClient) complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := c.do(ctx, openAIChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var parsed openAIChatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", c.name, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s response contained no choices", c.name)
	}

	return &CompletionResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: Usage{
			TokensIn:  parsed.Usage.PromptTokens,
			TokensOut: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// Stream performs a streaming completion over server-sent events.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest, handler ChunkHandler) (*CompletionResponse, error) {
	body, err := c.do(ctx, openAIChatRequest{
		Model:         req.Model,
		Messages:      req.Messages,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
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
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decoding %s stream chunk: %w", c.name, err)
		}
		if chunk.Usage != nil {
			usage = Usage{TokensIn: chunk.Usage.PromptTokens, TokensOut: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		content.WriteString(delta)
		if err := handler(Chunk{Delta: delta}); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s stream: %w", c.name, err)
	}

	if err := handler(Chunk{Done: true, Usage: &usage}); err != nil {
		return nil, err
	}
	return &CompletionResponse{Content: content.String(), Model: req.Model, Usage: usage}, nil
}

// do sends a chat completion request and returns the response body, or
// an APIError for non-2xx statuses.
func (c *OpenAIClient) do(ctx context.Context, payload openAIChatRequest) (io.ReadCloser, error) {
	key, err := c.keys.ResolveAPIKey(c.name)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(c.name, resp)
	}
	return resp.Body, nil
}

// apiError builds an APIError from an error response body.
func apiError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error.Message != "" {
		message = wrapped.Error.Message
	}

	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: message}
}
