package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GoogleClient talks to the Gemini generateContent API.
type GoogleClient struct {
	baseURL string
	keys    KeySource
	http    *http.Client
	policy  RetryPolicy
	logger  *slog.Logger
}

// NewGoogle creates a Gemini client.
func NewGoogle(keys KeySource, timeout time.Duration, policy RetryPolicy, logger *slog.Logger) *GoogleClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &GoogleClient{
		baseURL: googleBaseURL,
		keys:    keys,
		http:    &http.Client{Timeout: timeout},
		policy:  policy,
		logger:  logger,
	}
}

// WithBaseURL overrides the API base URL, used by tests.
func (c *GoogleClient) WithBaseURL(baseURL string) *GoogleClient {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *GoogleClient) Name() string { return NameGoogle }

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleRequest struct {
	Contents          []googleContent `json:"contents"`
	SystemInstruction *googleContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature,omitempty"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type googleResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Complete performs a blocking generateContent call.
func (c *GoogleClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
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

func (c *GoogleClient) complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	key, err := c.keys.ResolveAPIKey(NameGoogle)
	if err != nil {
		return nil, err
	}

	payload := googleRequest{}
	payload.GenerationConfig.Temperature = req.Temperature
	payload.GenerationConfig.MaxOutputTokens = req.MaxTokens
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			payload.SystemInstruction = &googleContent{Parts: []googlePart{{Text: m.Content}}}
		case "assistant":
			payload.Contents = append(payload.Contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			payload.Contents = append(payload.Contents, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding google request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(req.Model), url.QueryEscape(key))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building google request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling google: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(NameGoogle, resp)
	}

	var parsed googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding google response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("google response contained no candidates")
	}

	var content strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}

	return &CompletionResponse{
		Content: content.String(),
		Model:   req.Model,
		Usage: Usage{
			TokensIn:  parsed.UsageMetadata.PromptTokenCount,
			TokensOut: parsed.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

// Stream delivers the completion as a single chunk; the Gemini client
// does not use the streaming endpoint.
func (c *GoogleClient) Stream(ctx context.Context, req CompletionRequest, handler ChunkHandler) (*CompletionResponse, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		if err := handler(Chunk{Delta: resp.Content}); err != nil {
			return nil, err
		}
	}
	if err := handler(Chunk{Done: true, Usage: &resp.Usage}); err != nil {
		return nil, err
	}
	return resp, nil
}
