// Package rag indexes user-supplied reference documents as embedded chunks
// and retrieves the most relevant ones for a question.
package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/llm"
)

var (
	// ErrEmptyDocument is returned by Add when the text yields no chunks.
	ErrEmptyDocument = errors.New("reference document has no text")
	// ErrDisabled is returned when no embedder is configured.
	ErrDisabled = errors.New("retrieval is disabled: no embedding provider configured")
	// ErrNoEmbeddings is returned by Add when not a single chunk embedded.
	ErrNoEmbeddings = errors.New("no chunk could be embedded")
)

const (
	DefaultTopK             = 5
	DefaultContextChunks    = 10
	DefaultContextBudget    = 8000
	DefaultEmbedConcurrency = 4

	contextSeparator = "\n\n"
)

// Embedder turns texts into vectors, one per text in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Options tune chunking and retrieval. Zero values use defaults.
type Options struct {
	ChunkSize        int
	ChunkOverlap     int
	TopK             int
	ContextBudget    int
	EmbedConcurrency int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = DefaultChunkOverlap
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.ContextBudget <= 0 {
		o.ContextBudget = DefaultContextBudget
	}
	if o.EmbedConcurrency <= 0 {
		o.EmbedConcurrency = DefaultEmbedConcurrency
	}
	return o
}

// AddResult reports how a reference document was indexed.
type AddResult struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
	Skipped    int    `json:"skipped"`
}

// SearchResult is one retrieved chunk.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Store combines an Index with an Embedder. Writes take an exclusive lock so
// a search never observes a partially replaced or deleted document.
type Store struct {
	mu       sync.RWMutex
	index    Index
	embedder Embedder
	opts     Options
	log      zerolog.Logger
}

// New creates a Store. A nil embedder disables Add, Search and
// ContextForQuery with ErrDisabled.
func New(index Index, embedder Embedder, opts Options, log zerolog.Logger) *Store {
	return &Store{
		index:    index,
		embedder: embedder,
		opts:     opts.withDefaults(),
		log:      log,
	}
}

// Enabled reports whether an embedder is configured.
func (s *Store) Enabled() bool { return s.embedder != nil }

// Add chunks and embeds text and stores it under id, replacing any earlier
// version. Chunks that fail to embed are skipped and counted. When no chunk
// embeds, or the embedder rejects its credentials, Add fails and the earlier
// version stays indexed.
func (s *Store) Add(ctx context.Context, id, filename, text string) (*AddResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("Add: %w", ErrDisabled)
	}

	pieces := ChunkText(text, s.opts.ChunkSize, s.opts.ChunkOverlap)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("Add: %s: %w", id, ErrEmptyDocument)
	}

	var (
		vectors = make([][]float32, len(pieces))
		errMu   sync.Mutex
		lastErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.EmbedConcurrency)
	for i, piece := range pieces {
		i, piece := i, piece
		g.Go(func() error {
			out, err := s.embedder.Embed(gctx, []string{piece})
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if errors.Is(err, llm.ErrProviderAuth) {
					return err
				}
				s.log.Warn().Err(err).Str("reference_id", id).Int("chunk", i).Msg("chunk embedding failed, skipping")
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				return nil
			}
			if len(out) != 1 || len(out[0]) == 0 {
				s.log.Warn().Str("reference_id", id).Int("chunk", i).Msg("empty embedding, skipping")
				errMu.Lock()
				if lastErr == nil {
					lastErr = errors.New("embedder returned an empty vector")
				}
				errMu.Unlock()
				return nil
			}
			vectors[i] = out[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Add: embedding %s: %w", id, err)
	}

	chunks := make([]domain.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		if vectors[i] == nil {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			ID:         domain.ChunkID(id, i),
			DocumentID: id,
			Index:      i,
			Text:       piece,
			Embedding:  vectors[i],
		})
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("Add: %s: %w: %w", id, ErrNoEmbeddings, lastErr)
	}

	doc := &domain.ReferenceDocument{
		ID:           id,
		Filename:     filename,
		ChunkCount:   len(chunks),
		SkippedCount: len(pieces) - len(chunks),
		Processed:    true,
	}

	s.mu.Lock()
	err := s.index.PutReference(ctx, doc, chunks)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("Add: %w", err)
	}

	s.log.Info().
		Str("reference_id", id).
		Int("chunks", doc.ChunkCount).
		Int("skipped", doc.SkippedCount).
		Msg("reference document indexed")

	return &AddResult{DocumentID: id, ChunkCount: doc.ChunkCount, Skipped: doc.SkippedCount}, nil
}

// Search returns at most k chunks by descending cosine similarity. Equal
// scores keep insertion order. A non-positive k uses the configured TopK.
func (s *Store) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("Search: %w", ErrDisabled)
	}
	if k <= 0 {
		k = s.opts.TopK
	}

	out, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("Search: embedding query: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("Search: embedder returned %d vectors for one query", len(out))
	}
	qv := out[0]

	s.mu.RLock()
	chunks, err := s.index.ListChunks(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	results := make([]SearchResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, SearchResult{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Text:       c.Text,
			Score:      cosineSimilarity(qv, c.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes a reference document and all of its chunks.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.DeleteReference(ctx, id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	s.log.Info().Str("reference_id", id).Msg("reference document deleted")
	return nil
}

// ContextForQuery renders the most relevant chunks as
// "[Relevance: x.xx] text" blocks separated by blank lines, stopping before
// the character budget would be exceeded.
func (s *Store) ContextForQuery(ctx context.Context, query string) (string, error) {
	results, err := s.Search(ctx, query, DefaultContextChunks)
	if err != nil {
		return "", fmt.Errorf("ContextForQuery: %w", err)
	}

	var (
		b    strings.Builder
		used int
	)
	for _, r := range results {
		part := fmt.Sprintf("[Relevance: %.2f] %s", r.Score, r.Text)
		cost := len(part)
		if used > 0 {
			cost += len(contextSeparator)
		}
		if used+cost > s.opts.ContextBudget {
			break
		}
		if used > 0 {
			b.WriteString(contextSeparator)
		}
		b.WriteString(part)
		used += cost
	}
	return b.String(), nil
}

// List returns every reference document.
func (s *Store) List(ctx context.Context) ([]*domain.ReferenceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, err := s.index.ListReferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return docs, nil
}

// Info returns one reference document.
func (s *Store) Info(ctx context.Context, id string) (*domain.ReferenceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.index.GetReference(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Info: %w", err)
	}
	return doc, nil
}

// HasDocuments reports whether any reference document is indexed.
func (s *Store) HasDocuments(ctx context.Context) (bool, error) {
	docs, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// cosineSimilarity returns 0 for mismatched or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
