package rag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/store"
)

// Index persists reference documents and their embedded chunks.
// ListChunks must return chunks in insertion order.
type Index interface {
	PutReference(ctx context.Context, doc *domain.ReferenceDocument, chunks []domain.Chunk) error
	DeleteReference(ctx context.Context, id string) error
	ListChunks(ctx context.Context) ([]domain.Chunk, error)
	ListReferences(ctx context.Context) ([]*domain.ReferenceDocument, error)
	GetReference(ctx context.Context, id string) (*domain.ReferenceDocument, error)
}

// MemoryIndex is an Index held in process memory.
type MemoryIndex struct {
	mu     sync.RWMutex
	docs   map[string]*domain.ReferenceDocument
	order  []string
	chunks map[string][]domain.Chunk
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		docs:   make(map[string]*domain.ReferenceDocument),
		chunks: make(map[string][]domain.Chunk),
	}
}

// PutReference replaces a document and its chunks.
func (m *MemoryIndex) PutReference(ctx context.Context, doc *domain.ReferenceDocument, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	m.removeLocked(doc.ID)

	stored := *doc
	stored.ChunkIDs = make([]string, 0, len(chunks))
	for _, c := range chunks {
		stored.ChunkIDs = append(stored.ChunkIDs, c.ID)
	}
	m.docs[doc.ID] = &stored
	m.order = append(m.order, doc.ID)
	m.chunks[doc.ID] = append([]domain.Chunk(nil), chunks...)
	return nil
}

// DeleteReference removes a document and all of its chunks.
func (m *MemoryIndex) DeleteReference(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("DeleteReference: %s: %w", id, store.ErrNotFound)
	}
	m.removeLocked(id)
	return nil
}

func (m *MemoryIndex) removeLocked(id string) {
	if _, ok := m.docs[id]; !ok {
		return
	}
	delete(m.docs, id)
	delete(m.chunks, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// ListChunks returns every chunk in insertion order.
func (m *MemoryIndex) ListChunks(ctx context.Context) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Chunk
	for _, id := range m.order {
		out = append(out, m.chunks[id]...)
	}
	return out, nil
}

// ListReferences returns all documents in insertion order.
func (m *MemoryIndex) ListReferences(ctx context.Context) ([]*domain.ReferenceDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.ReferenceDocument, 0, len(m.order))
	for _, id := range m.order {
		doc := *m.docs[id]
		out = append(out, &doc)
	}
	return out, nil
}

// GetReference returns one document.
func (m *MemoryIndex) GetReference(ctx context.Context, id string) (*domain.ReferenceDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("GetReference: %s: %w", id, store.ErrNotFound)
	}
	cp := *doc
	return &cp, nil
}
