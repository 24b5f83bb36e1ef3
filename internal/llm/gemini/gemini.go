// Package gemini implements the llm.Provider interface and a text embedder
// with the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/finance-agent/internal/llm"
)

var _ llm.Provider = (*Provider)(nil)

const (
	Name            = "gemini"
	DefaultModel    = "gemini-2.5-flash"
	DefaultEmbedder = "text-embedding-004"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

type embedFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)

// Provider calls Models.GenerateContent.
type Provider struct {
	model    string
	generate generateFunc
}

func newClient(ctx context.Context, cfg Config) (*genai.Client, error) {
	cc := &genai.ClientConfig{APIKey: cfg.APIKey}
	if cfg.APIKey != "" {
		cc.Backend = genai.BackendGeminiAPI
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create genai client: %w", err)
	}
	return client, nil
}

// New creates a Gemini provider. Without an API key the SDK falls back to
// Vertex AI settings from the environment.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Provider{model: cfg.Model, generate: client.Models.GenerateContent}, nil
}

func (p *Provider) Name() string  { return Name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) ExtractStructured(ctx context.Context, pr llm.Prompt) (string, error) {
	return p.send(ctx, pr, llm.AnalysisTemperature, llm.AnalysisMaxTokens, "application/json")
}

func (p *Provider) Answer(ctx context.Context, pr llm.Prompt) (string, error) {
	return p.send(ctx, pr, llm.ChatTemperature, llm.ChatMaxTokens, "")
}

func (p *Provider) send(ctx context.Context, pr llm.Prompt, temperature float32, maxTokens int32, mimeType string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(temperature),
		MaxOutputTokens:  maxTokens,
		ResponseMIMEType: mimeType,
	}
	if pr.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(pr.System, genai.RoleUser)
	}

	resp, err := p.generate(ctx, p.model, genai.Text(pr.User), cfg)
	if err != nil {
		return "", wrapError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &llm.ProviderError{Provider: Name, Kind: llm.ErrProviderFailed, Err: errors.New("empty response from model")}
	}
	return text, nil
}

// wrapError maps SDK API errors onto the gateway's error kinds.
func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.ProviderError{Provider: Name, Kind: kindForAPIError(apiErr), StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &llm.ProviderError{Provider: Name, Kind: kindForAPIError(*apiErrPtr), StatusCode: apiErrPtr.Code, Err: err}
	}
	return llm.WrapTransportError(Name, err)
}

func kindForAPIError(e genai.APIError) error {
	switch e.Status {
	case "RESOURCE_EXHAUSTED":
		return llm.ErrProviderRateLimited
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return llm.ErrProviderAuth
	case "DEADLINE_EXCEEDED":
		return llm.ErrProviderTimeout
	}
	if e.Code == 0 {
		return llm.KindForStatus(http.StatusInternalServerError)
	}
	return llm.KindForStatus(e.Code)
}
