package openai

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-agent/internal/llm"
)

// Embedder produces vectors through /embeddings.
type Embedder struct {
	cfg Config
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewEmbedder creates an embedder. An empty model selects DefaultEmbedder.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w: API key is required", llm.ErrProviderAuth)
	}
	return &Embedder{cfg: cfg.withDefaults(DefaultEmbedder)}, nil
}

func (e *Embedder) Model() string { return e.cfg.Model }

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	if err := post(ctx, e.cfg, "/embeddings", embeddingRequest{Model: e.cfg.Model, Input: texts}, &resp); err != nil {
		return nil, fmt.Errorf("Embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("Embed: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("Embed: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
