// Package openai implements the llm.Provider interface and a text embedder
// over the OpenAI HTTP API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dvloznov/finance-agent/internal/llm"
)

var _ llm.Provider = (*Provider)(nil)

const (
	Name            = "openai"
	DefaultBaseURL  = "https://api.openai.com/v1"
	DefaultModel    = "gpt-4o-mini"
	DefaultEmbedder = "text-embedding-3-small"
)

// Config holds connection settings. Timeouts are applied per call by the
// gateway, so the HTTP client carries none.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

func (c Config) withDefaults(model string) Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = model
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

// Provider talks to /chat/completions.
type Provider struct {
	cfg Config
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// New creates an OpenAI provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w: API key is required", llm.ErrProviderAuth)
	}
	return &Provider{cfg: cfg.withDefaults(DefaultModel)}, nil
}

func (p *Provider) Name() string  { return Name }
func (p *Provider) Model() string { return p.cfg.Model }

// ExtractStructured requests a JSON object response when the model supports
// JSON mode; otherwise the prompt alone asks for JSON.
func (p *Provider) ExtractStructured(ctx context.Context, pr llm.Prompt) (string, error) {
	var format *responseFormat
	if SupportsJSONMode(p.cfg.Model) {
		format = &responseFormat{Type: "json_object"}
	}
	return p.complete(ctx, pr, llm.AnalysisTemperature, llm.AnalysisMaxTokens, format)
}

// SupportsJSONMode reports whether model accepts response_format
// json_object. The original gpt-4 snapshots and gpt-4-32k reject it with a
// 400; newer OpenAI models and compatible servers accept it.
func SupportsJSONMode(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	switch m {
	case "gpt-4", "gpt-4-0314", "gpt-4-0613":
		return false
	}
	return !strings.HasPrefix(m, "gpt-4-32k")
}

// Answer requests a free-text response.
func (p *Provider) Answer(ctx context.Context, pr llm.Prompt) (string, error) {
	return p.complete(ctx, pr, llm.ChatTemperature, llm.ChatMaxTokens, nil)
}

func (p *Provider) complete(ctx context.Context, pr llm.Prompt, temperature float64, maxTokens int, format *responseFormat) (string, error) {
	req := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: pr.System},
			{Role: "user", Content: pr.User},
		},
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: format,
	}

	var resp chatResponse
	if err := post(ctx, p.cfg, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &llm.ProviderError{Provider: Name, Kind: llm.ErrProviderFailed, Err: fmt.Errorf("no choices in response")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func post(ctx context.Context, cfg Config, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return llm.WrapTransportError(Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.WrapTransportError(Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return llm.NewStatusError(Name, resp.StatusCode, data, llm.ParseRetryAfter(resp.Header))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &llm.ProviderError{Provider: Name, Kind: llm.ErrProviderFailed, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
