// Package llmclient is a thin OpenAI-compatible chat-completions client.
// It is deliberately minimal: the enrichment engine owns batching, caching,
// retry policy, and prompt construction (spec §4.3); this package only
// knows how to shape one request and parse one response envelope.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	blerrors "github.com/3leaps/blaulicht/internal/errors"
	"github.com/3leaps/blaulicht/pkg/httpx"
)

// Message is one chat-completion message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message Message `json:"message"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   usage        `json:"usage"`
}

// Usage is the token accounting for one completed call, fed into the
// token-usage log (spec §4.3.4).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	http        *httpx.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string // environment variable holding the bearer token
	Model       string
	Temperature float64
	MaxTokens   int
}

// New builds a Client, reading the API key from cfg.APIKeyEnv.
func New(cfg Config, hc *httpx.Client, logger *zap.Logger) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, blerrors.Wrap(blerrors.KindAuthConfig, "llmclient.New", "environment variable %s is not set", cfg.APIKeyEnv)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	temp := cfg.Temperature
	if temp == 0 {
		temp = 0.1
	}
	return &Client{
		http:        hc,
		baseURL:     cfg.BaseURL,
		apiKey:      key,
		model:       cfg.Model,
		temperature: temp,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.Named("llmclient"),
	}, nil
}

// Complete sends prompt as a single user message and returns the model's
// raw content string plus token usage.
func (c *Client) Complete(ctx context.Context, prompt string) (string, Usage, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, blerrors.Wrap(blerrors.KindValidation, "llmclient.Complete", "marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", c.apiKey),
	}
	resp, err := c.http.PostJSON(ctx, c.baseURL, payload, headers)
	if err != nil {
		return "", Usage{}, err
	}

	body, err := httpx.ReadAndClose(resp)
	if err != nil {
		return "", Usage{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", Usage{}, blerrors.Wrap(blerrors.KindParse, "llmclient.Complete", "parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{}, blerrors.Wrap(blerrors.KindParse, "llmclient.Complete", "chat response had no choices")
	}

	return parsed.Choices[0].Message.Content, Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}, nil
}
