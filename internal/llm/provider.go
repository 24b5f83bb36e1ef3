// Package llm is the gateway between the finance pipeline and a language
// model provider. Provider variants live in subpackages and only translate
// prompts to and from their wire formats; prompt construction, redaction,
// retries and output validation happen here.
package llm

import "context"

// Prompt is a provider-neutral request.
type Prompt struct {
	System string
	User   string
}

// Provider is one language model backend. ExtractStructured must ask the
// model for a single JSON object; Answer returns free text.
type Provider interface {
	Name() string
	Model() string
	ExtractStructured(ctx context.Context, p Prompt) (string, error)
	Answer(ctx context.Context, p Prompt) (string, error)
}

// Generation parameters shared by all providers.
const (
	AnalysisTemperature = 0.1
	AnalysisMaxTokens   = 4000
	ChatTemperature     = 0.3
	ChatMaxTokens       = 2000
)
