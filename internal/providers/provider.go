// Package providers implements a unified interface over the supported
// LLM chat-completion backends: OpenAI, Anthropic, Google, and Groq.
package providers

import (
	"context"
	"errors"
	"fmt"
)

// Provider name identifiers.
const (
	NameOpenAI    = "openai"
	NameAnthropic = "anthropic"
	NameGoogle    = "google"
	NameGroq      = "groq"
)

// Errors returned by provider clients.
var (
	// ErrUnknownProvider is returned for a provider name with no client.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrAuth is returned when the provider rejects the API key.
	ErrAuth = errors.New("provider authentication failed")
	// ErrRateLimited is returned when the provider throttles the request.
	ErrRateLimited = errors.New("provider rate limited")
)

// APIError carries a provider HTTP error with its status and body message.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses to sentinel errors so callers can use
// errors.Is without inspecting status codes.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 401, 403:
		return ErrAuth
	case 429:
		return ErrRateLimited
	default:
		return nil
	}
}

// Message is a single chat message in provider wire form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one chat completion call.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Usage records provider-reported token counts.
type Usage struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// CompletionResponse is the full result of a completion call.
type CompletionResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Chunk is one streamed fragment of a completion. Usage is set only on
// the final chunk when the provider reports it.
type Chunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
	Usage *Usage `json:"usage,omitempty"`
}

// ChunkHandler receives streamed chunks in order. Returning an error
// aborts the stream.
type ChunkHandler func(Chunk) error

// KeySource resolves the API key for a provider at call time, so key
// rotation through settings takes effect without re-wiring clients.
type KeySource interface {
	ResolveAPIKey(provider string) (string, error)
}

// StaticKeys is a KeySource over a fixed map, used by tests and the
// bench CLI.
type StaticKeys map[string]string

func (s StaticKeys) ResolveAPIKey(provider string) (string, error) {
	key, ok := s[provider]
	if !ok || key == "" {
		return "", fmt.Errorf("no API key for provider %s", provider)
	}
	return key, nil
}

// Provider is the interface every LLM backend client implements.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Complete performs a blocking chat completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream performs a streaming completion, invoking the handler for
	// each chunk. Providers without native streaming deliver the whole
	// completion as a single chunk.
	Stream(ctx context.Context, req CompletionRequest, handler ChunkHandler) (*CompletionResponse, error)
}
