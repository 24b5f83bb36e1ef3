// Package anthropic implements the llm.Provider interface over the Anthropic
// Messages API.
package anthropic

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
	Name           = "anthropic"
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-3-sonnet-20240229"

	apiVersion = "2023-06-01"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Provider talks to /v1/messages.
type Provider struct {
	cfg Config
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// New creates an Anthropic provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w: API key is required", llm.ErrProviderAuth)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Provider{cfg: cfg}, nil
}

func (p *Provider) Name() string  { return Name }
func (p *Provider) Model() string { return p.cfg.Model }

// ExtractStructured has no JSON mode on this API. The system prompt demands a
// single object and the gateway strips any surrounding prose or fences.
func (p *Provider) ExtractStructured(ctx context.Context, pr llm.Prompt) (string, error) {
	return p.send(ctx, pr, llm.AnalysisTemperature, llm.AnalysisMaxTokens)
}

func (p *Provider) Answer(ctx context.Context, pr llm.Prompt) (string, error) {
	return p.send(ctx, pr, llm.ChatTemperature, llm.ChatMaxTokens)
}

func (p *Provider) send(ctx context.Context, pr llm.Prompt, temperature float64, maxTokens int) (string, error) {
	payload, err := json.Marshal(messagesRequest{
		Model:       p.cfg.Model,
		System:      pr.System,
		Messages:    []message{{Role: "user", Content: pr.User}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", llm.WrapTransportError(Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llm.WrapTransportError(Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", llm.NewStatusError(Name, statusCode(resp.StatusCode), body, llm.ParseRetryAfter(resp.Header))
	}

	var msg messagesResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", &llm.ProviderError{Provider: Name, Kind: llm.ErrProviderFailed, Err: fmt.Errorf("decode response: %w", err)}
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &llm.ProviderError{Provider: Name, Kind: llm.ErrProviderFailed, Err: fmt.Errorf("no text content in response")}
	}
	return strings.TrimSpace(sb.String()), nil
}

// statusCode folds the overloaded status into rate limiting.
func statusCode(code int) int {
	if code == 529 {
		return http.StatusTooManyRequests
	}
	return code
}
