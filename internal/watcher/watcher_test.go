package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-agent/internal/logger"
	"github.com/dvloznov/finance-agent/internal/rag"
	"github.com/dvloznov/finance-agent/internal/store"
)

// MockIndexer is a mock implementation of Indexer for testing.
type MockIndexer struct {
	mu         sync.Mutex
	AddFunc    func(ctx context.Context, id, filename, text string) (*rag.AddResult, error)
	DeleteFunc func(ctx context.Context, id string) error
	added      map[string]string
	deleted    []string
}

func newMockIndexer() *MockIndexer {
	m := &MockIndexer{added: map[string]string{}}
	m.AddFunc = func(_ context.Context, id, _, text string) (*rag.AddResult, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.added[id] = text
		return &rag.AddResult{DocumentID: id, ChunkCount: 1}, nil
	}
	m.DeleteFunc = func(_ context.Context, id string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.added[id]; !ok {
			return fmt.Errorf("DeleteReference: %s: %w", id, store.ErrNotFound)
		}
		delete(m.added, id)
		m.deleted = append(m.deleted, id)
		return nil
	}
	return m
}

func (m *MockIndexer) Add(ctx context.Context, id, filename, text string) (*rag.AddResult, error) {
	return m.AddFunc(ctx, id, filename, text)
}

func (m *MockIndexer) Delete(ctx context.Context, id string) error {
	return m.DeleteFunc(ctx, id)
}

func (m *MockIndexer) text(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.added[id]
	return t, ok
}

// MockExtractor is a mock implementation of TextExtractor for testing.
type MockExtractor struct {
	ExtractFunc func(ctx context.Context, data []byte) (string, error)
}

func (m *MockExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	return m.ExtractFunc(ctx, data)
}

func passthrough() *MockExtractor {
	return &MockExtractor{ExtractFunc: func(_ context.Context, data []byte) (string, error) {
		return string(data), nil
	}}
}

func newTestWatcher(t *testing.T, idx Indexer, ext TextExtractor, extensions []string) *Watcher {
	t.Helper()
	w, err := New(idx, ext, extensions, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestNew_NormalizesExtensions(t *testing.T) {
	w := newTestWatcher(t, newMockIndexer(), passthrough(), []string{"TXT", " .md ", ""})
	assert.Equal(t, []string{".txt", ".md"}, w.extensions)

	d := newTestWatcher(t, newMockIndexer(), passthrough(), nil)
	assert.Equal(t, DefaultExtensions, d.extensions)
}

func TestReferenceID_StablePerPath(t *testing.T) {
	dir := t.TempDir()
	a := ReferenceID(filepath.Join(dir, "guide.txt"))

	assert.Equal(t, a, ReferenceID(filepath.Join(dir, "guide.txt")))
	assert.NotEqual(t, a, ReferenceID(filepath.Join(dir, "other.txt")))
	assert.Contains(t, a, "watch-")
}

func TestHandle_CreateModifyDelete(t *testing.T) {
	idx := newMockIndexer()
	w := newTestWatcher(t, idx, passthrough(), nil)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "guide.txt")
	id := ReferenceID(path)

	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	require.NoError(t, w.Handle(ctx, Event{Path: path, Operation: FileCreated}))
	got, ok := idx.text(id)
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	require.NoError(t, w.Handle(ctx, Event{Path: path, Operation: FileModified}))
	got, _ = idx.text(id)
	assert.Equal(t, "v2", got)

	require.NoError(t, os.Remove(path))
	require.NoError(t, w.Handle(ctx, Event{Path: path, Operation: FileDeleted}))
	_, ok = idx.text(id)
	assert.False(t, ok)
	assert.Equal(t, []string{id}, idx.deleted)
}

func TestHandle_IgnoresEmptyMissingAndUnknown(t *testing.T) {
	idx := newMockIndexer()
	w := newTestWatcher(t, idx, passthrough(), nil)
	ctx := context.Background()
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.NoError(t, w.Handle(ctx, Event{Path: empty, Operation: FileCreated}))
	assert.NoError(t, w.Handle(ctx, Event{Path: filepath.Join(dir, "gone.txt"), Operation: FileModified}))
	assert.NoError(t, w.Handle(ctx, Event{Path: filepath.Join(dir, "never.txt"), Operation: FileDeleted}))
	assert.Empty(t, idx.added)
}

func TestHandle_ExtractionFailure(t *testing.T) {
	boom := errors.New("no text layer")
	w := newTestWatcher(t, newMockIndexer(), &MockExtractor{ExtractFunc: func(context.Context, []byte) (string, error) {
		return "", boom
	}}, nil)
	path := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	err := w.Handle(context.Background(), Event{Path: path, Operation: FileCreated})

	assert.True(t, errors.Is(err, boom))
}

func TestSync_IndexesWatchedFilesOnly(t *testing.T) {
	idx := newMockIndexer()
	w := newTestWatcher(t, idx, passthrough(), []string{".txt"})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte("{}"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755))

	require.NoError(t, w.Sync(context.Background(), dir))

	assert.Len(t, idx.added, 1)
	got, ok := idx.text(ReferenceID(filepath.Join(dir, "a.txt")))
	require.True(t, ok)
	assert.Equal(t, "alpha", got)
}

func TestWatch_EmitsCreateForWatchedExtension(t *testing.T) {
	w := newTestWatcher(t, newMockIndexer(), passthrough(), []string{".txt"})
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events, err := w.Watch(ctx, dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	select {
	case ev := <-events:
		assert.Equal(t, filepath.Join(dir, "notes.txt"), ev.Path)
		assert.Equal(t, FileCreated, ev.Operation)
	case <-ctx.Done():
		t.Fatal("timeout waiting for event")
	}
}

func TestRun_IndexesNewFiles(t *testing.T) {
	idx := newMockIndexer()
	w := newTestWatcher(t, idx, passthrough(), []string{".md"})
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, dir) }()

	path := filepath.Join(dir, "budget.md")
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte("save 20%"), 0o644); err != nil {
			return false
		}
		text, ok := idx.text(ReferenceID(path))
		return ok && text == "save 20%"
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
