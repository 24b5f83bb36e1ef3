package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/dvloznov/finance-agent/internal/llm"
)

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: s}}}},
		},
	}
}

func TestExtractStructured_Config(t *testing.T) {
	var gotModel string
	var gotCfg *genai.GenerateContentConfig
	var gotContents []*genai.Content
	p := &Provider{model: "gemini-test", generate: func(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotModel, gotContents, gotCfg = model, contents, cfg
		return textResponse(" {\"x\":1} "), nil
	}}

	out, err := p.ExtractStructured(context.Background(), llm.Prompt{System: "sys", User: "doc"})
	require.NoError(t, err)

	assert.Equal(t, `{"x":1}`, out)
	assert.Equal(t, "gemini-test", gotModel)
	assert.Equal(t, "application/json", gotCfg.ResponseMIMEType)
	require.NotNil(t, gotCfg.Temperature)
	assert.InDelta(t, llm.AnalysisTemperature, *gotCfg.Temperature, 1e-6)
	assert.EqualValues(t, llm.AnalysisMaxTokens, gotCfg.MaxOutputTokens)
	require.NotNil(t, gotCfg.SystemInstruction)
	assert.Equal(t, "sys", gotCfg.SystemInstruction.Parts[0].Text)
	require.Len(t, gotContents, 1)
	assert.Equal(t, "doc", gotContents[0].Parts[0].Text)
}

func TestAnswer_PlainText(t *testing.T) {
	var gotCfg *genai.GenerateContentConfig
	p := &Provider{model: DefaultModel, generate: func(_ context.Context, _ string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotCfg = cfg
		return textResponse("answer"), nil
	}}

	out, err := p.Answer(context.Background(), llm.Prompt{User: "q"})
	require.NoError(t, err)

	assert.Equal(t, "answer", out)
	assert.Empty(t, gotCfg.ResponseMIMEType)
	assert.Nil(t, gotCfg.SystemInstruction)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "quota", err: genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}, want: llm.ErrProviderRateLimited},
		{name: "bad key", err: genai.APIError{Code: http.StatusBadRequest, Status: "UNAUTHENTICATED"}, want: llm.ErrProviderAuth},
		{name: "server", err: genai.APIError{Code: http.StatusInternalServerError}, want: llm.ErrProviderFailed},
		{name: "deadline", err: context.DeadlineExceeded, want: llm.ErrProviderTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Provider{model: DefaultModel, generate: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return nil, tt.err
			}}
			_, err := p.Answer(context.Background(), llm.Prompt{User: "q"})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEmptyResponse(t *testing.T) {
	p := &Provider{model: DefaultModel, generate: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	}}
	_, err := p.Answer(context.Background(), llm.Prompt{User: "q"})
	assert.True(t, errors.Is(err, llm.ErrProviderFailed))
}

func TestEmbed(t *testing.T) {
	e := &Embedder{model: DefaultEmbedder, embed: func(_ context.Context, model string, contents []*genai.Content, _ *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
		assert.Equal(t, DefaultEmbedder, model)
		out := &genai.EmbedContentResponse{}
		for i := range contents {
			out.Embeddings = append(out.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i), 1}})
		}
		return out, nil
	}}

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)
}
