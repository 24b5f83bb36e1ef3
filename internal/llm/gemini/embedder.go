package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Embedder calls Models.EmbedContent.
type Embedder struct {
	model string
	embed embedFunc
}

func NewEmbedder(ctx context.Context, cfg Config) (*Embedder, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbedder
	}
	return &Embedder{model: cfg.Model, embed: client.Models.EmbedContent}, nil
}

func (e *Embedder) Model() string { return e.model }

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := e.embed(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("Embed: %w", wrapError(err))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("Embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("Embed: missing embedding at %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
