package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-agent/internal/infra/sqlite"
	"github.com/dvloznov/finance-agent/internal/llm"
	"github.com/dvloznov/finance-agent/internal/logger"
	"github.com/dvloznov/finance-agent/internal/store"
)

// MockEmbedder is a mock implementation of Embedder for testing.
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	calls     atomic.Int32
}

func (m *MockEmbedder) Model() string { return "mock-embed" }

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	return keywordVectors(texts), nil
}

var vocabulary = []string{"tax", "insurance", "retirement", "budget"}

// keywordVectors embeds a text as counts of vocabulary words.
func keywordVectors(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		v := make([]float32, len(vocabulary))
		for j, w := range vocabulary {
			v[j] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out
}

func newTestStore(embedder Embedder, opts Options) *Store {
	return New(NewMemoryIndex(), embedder, opts, logger.Nop())
}

func TestChunkText(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello world"}, ChunkText("  hello world ", 1000, 100))
	})

	t.Run("blank text has no chunks", func(t *testing.T) {
		assert.Empty(t, ChunkText(" \n\t ", 1000, 100))
	})

	t.Run("exactly the window size is one chunk", func(t *testing.T) {
		text := strings.Repeat("a", 1000)
		assert.Len(t, ChunkText(text, 1000, 100), 1)
	})

	t.Run("breaks at sentence end past half window", func(t *testing.T) {
		first := strings.Repeat("a", 69) + "."
		text := first + strings.Repeat("b", 60)
		chunks := ChunkText(text, 100, 10)
		require.Len(t, chunks, 2)
		assert.Equal(t, first, chunks[0])
		assert.True(t, strings.HasPrefix(chunks[1], strings.Repeat("a", 9)+"."))
	})

	t.Run("falls back to word boundary", func(t *testing.T) {
		text := strings.Repeat("a", 70) + " " + strings.Repeat("b", 60)
		chunks := ChunkText(text, 100, 0)
		require.Len(t, chunks, 2)
		assert.Equal(t, strings.Repeat("a", 70), chunks[0])
		assert.Equal(t, strings.Repeat("b", 60), chunks[1])
	})

	t.Run("early boundary is ignored", func(t *testing.T) {
		text := strings.Repeat("a", 10) + "." + strings.Repeat("b", 189)
		chunks := ChunkText(text, 100, 0)
		require.Len(t, chunks, 2)
		assert.Len(t, chunks[0], 100)
	})

	t.Run("multibyte runes are not split", func(t *testing.T) {
		text := strings.Repeat("€", 250)
		for _, c := range ChunkText(text, 100, 10) {
			assert.Equal(t, strings.Repeat("€", len([]rune(c))), c)
		}
	})
}

func TestAdd_IndexesChunks(t *testing.T) {
	s := newTestStore(&MockEmbedder{}, Options{ChunkSize: 100, ChunkOverlap: 10})
	text := strings.Repeat("Tax rules apply to retirement accounts. ", 10)

	res, err := s.Add(context.Background(), "ref-1", "tax.txt", text)

	require.NoError(t, err)
	assert.Equal(t, "ref-1", res.DocumentID)
	assert.Greater(t, res.ChunkCount, 1)
	assert.Zero(t, res.Skipped)

	info, err := s.Info(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.True(t, info.Processed)
	assert.Equal(t, res.ChunkCount, info.ChunkCount)
	assert.Equal(t, "ref-1_chunk_0", info.ChunkIDs[0])
}

func TestAdd_SkipsFailedChunks(t *testing.T) {
	emb := &MockEmbedder{EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
		if strings.Contains(texts[0], "FAIL") {
			return nil, errors.New("provider error")
		}
		return keywordVectors(texts), nil
	}}
	s := newTestStore(emb, Options{ChunkSize: 50, ChunkOverlap: 5})
	text := strings.Repeat("budget ", 7) + ". " + strings.Repeat("FAIL ", 9) + ". " + strings.Repeat("tax ", 12)

	res, err := s.Add(context.Background(), "ref-1", "mixed.txt", text)

	require.NoError(t, err)
	assert.Positive(t, res.Skipped)
	assert.Positive(t, res.ChunkCount)

	info, err := s.Info(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Len(t, info.ChunkIDs, res.ChunkCount)
	assert.Equal(t, res.Skipped, info.SkippedCount)
}

func TestAdd_OutageKeepsPreviousVersion(t *testing.T) {
	var down atomic.Bool
	emb := &MockEmbedder{EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
		if down.Load() {
			return nil, &llm.ProviderError{Provider: "openai", Kind: llm.ErrProviderFailed, StatusCode: 503}
		}
		return keywordVectors(texts), nil
	}}
	s := newTestStore(emb, Options{})
	ctx := context.Background()

	first, err := s.Add(ctx, "ref", "budget.txt", "A monthly budget keeps spending in check.")
	require.NoError(t, err)

	down.Store(true)
	_, err = s.Add(ctx, "ref", "budget.txt", "A revised budget with new numbers.")
	assert.True(t, errors.Is(err, ErrNoEmbeddings))
	assert.True(t, errors.Is(err, llm.ErrProviderFailed))
	down.Store(false)

	info, err := s.Info(ctx, "ref")
	require.NoError(t, err)
	assert.True(t, info.Processed)
	assert.Equal(t, first.ChunkCount, info.ChunkCount)

	hits, err := s.Search(ctx, "budget", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Text, "monthly budget")
}

func TestAdd_AuthFailureIsFatal(t *testing.T) {
	emb := &MockEmbedder{EmbedFunc: func(_ context.Context, texts []string) ([][]float32, error) {
		if strings.Contains(texts[0], "FAIL") {
			return nil, &llm.ProviderError{Provider: "openai", Kind: llm.ErrProviderAuth, StatusCode: 401}
		}
		return keywordVectors(texts), nil
	}}
	s := newTestStore(emb, Options{ChunkSize: 50, ChunkOverlap: 5})
	text := strings.Repeat("budget ", 7) + ". " + strings.Repeat("FAIL ", 9) + ". " + strings.Repeat("tax ", 12)

	_, err := s.Add(context.Background(), "ref-1", "mixed.txt", text)

	assert.True(t, errors.Is(err, llm.ErrProviderAuth))
	docs, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAdd_Errors(t *testing.T) {
	_, err := newTestStore(nil, Options{}).Add(context.Background(), "ref-1", "x.txt", "text")
	assert.True(t, errors.Is(err, ErrDisabled))

	_, err = newTestStore(&MockEmbedder{}, Options{}).Add(context.Background(), "ref-1", "x.txt", "   ")
	assert.True(t, errors.Is(err, ErrEmptyDocument))
}

func TestAdd_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	emb := &MockEmbedder{EmbedFunc: func(ctx context.Context, _ []string) ([][]float32, error) {
		cancel()
		return nil, ctx.Err()
	}}
	s := newTestStore(emb, Options{})

	_, err := s.Add(ctx, "ref-1", "x.txt", "some tax text")

	assert.True(t, errors.Is(err, context.Canceled))
	docs, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSearch_RanksByCosine(t *testing.T) {
	s := newTestStore(&MockEmbedder{}, Options{})
	ctx := context.Background()
	for id, text := range map[string]string{
		"tax":       "tax tax filing deadlines",
		"insurance": "insurance policy coverage",
	} {
		_, err := s.Add(ctx, id, id+".txt", text)
		require.NoError(t, err)
	}
	_, err := s.Add(ctx, "mixed", "mixed.txt", "tax and insurance overview")
	require.NoError(t, err)

	results, err := s.Search(ctx, "what about tax?", 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "tax", results[0].DocumentID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "mixed", results[1].DocumentID)
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	s := newTestStore(&MockEmbedder{}, Options{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := s.Add(ctx, fmt.Sprintf("doc-%d", i), "x.txt", "budget basics")
		require.NoError(t, err)
	}

	results, err := s.Search(ctx, "budget", 3)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "doc-0", results[0].DocumentID)
	assert.Equal(t, "doc-1", results[1].DocumentID)
	assert.Equal(t, "doc-2", results[2].DocumentID)
}

func TestDelete(t *testing.T) {
	s := newTestStore(&MockEmbedder{}, Options{})
	ctx := context.Background()
	_, err := s.Add(ctx, "ref-1", "tax.txt", "tax tax tax")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "ref-1"))

	results, err := s.Search(ctx, "tax", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	err = s.Delete(ctx, "ref-1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestContextForQuery(t *testing.T) {
	s := newTestStore(&MockEmbedder{}, Options{ContextBudget: 70})
	ctx := context.Background()
	_, err := s.Add(ctx, "a", "a.txt", "tax guide")
	require.NoError(t, err)
	_, err = s.Add(ctx, "b", "b.txt", "tax and budget notes")
	require.NoError(t, err)
	_, err = s.Add(ctx, "c", "c.txt", "insurance only")
	require.NoError(t, err)

	out, err := s.ContextForQuery(ctx, "tax")

	require.NoError(t, err)
	assert.Equal(t, "[Relevance: 1.00] tax guide\n\n[Relevance: 0.71] tax and budget notes", out)
}

func TestHasDocuments(t *testing.T) {
	s := newTestStore(&MockEmbedder{}, Options{})
	ctx := context.Background()

	has, err := s.HasDocuments(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.Add(ctx, "ref-1", "x.txt", "budget")
	require.NoError(t, err)
	has, err = s.HasDocuments(ctx)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStore_WithSQLiteIndex(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "finance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })

	s := New(db, &MockEmbedder{}, Options{}, logger.Nop())
	ctx := context.Background()

	_, err = s.Add(ctx, "ref-1", "tax.txt", "tax filing")
	require.NoError(t, err)
	_, err = s.Add(ctx, "ref-1", "tax.txt", "retirement planning")
	require.NoError(t, err)

	docs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []string{"ref-1_chunk_0"}, docs[0].ChunkIDs)

	results, err := s.Search(ctx, "retirement", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "retirement planning", results[0].Text)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
