// Package llm provides clients for the text-structuring service.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "google/gemini-2.5-flash"
)

// Completer turns a system and user prompt into raw response text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config holds OpenRouter client settings.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Retry       RetryConfig
}

// Client handles communication with the OpenRouter chat completions API.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float32
	maxTokens   int
	retry       RetryConfig
	httpClient  *http.Client
	logger      *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents the API request structure
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// Response represents the API response structure
type Response struct {
	ID      string    `json:"id"`
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// APIError is the error body returned by OpenRouter.
type APIError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

// NewClient creates a new OpenRouter client.
func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("OpenRouter API key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		retry:       cfg.Retry,
		httpClient:  &http.Client{},
		logger:      logger,
	}, nil
}

// Complete sends one non-streaming chat completion. Cancellation and
// deadlines come from ctx.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(c.buildRequest(systemPrompt, userPrompt))
	if err != nil {
		return "", domain.StructuringError("failed to marshal request", err)
	}

	resp, err := SendWithRetry(ctx, c.retry, c.logger, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("HTTP-Referer", "https://github.com/spherical-ai/spherical")
		req.Header.Set("X-Title", "PDF Structurer")

		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", domain.TransportError("failed to send request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.TransportError("failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", domain.TransportError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, truncate(string(data), 512)), nil)
	}

	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", domain.TransportError("failed to decode response envelope", err)
	}
	if parsed.Error != nil {
		return "", domain.TransportError("API error: "+parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return "", domain.TransportError("response has no choices", nil)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func (c *Client) buildRequest(systemPrompt, userPrompt string) *Request {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	return &Request{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
