package app_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-agent/internal/app"
	"github.com/dvloznov/finance-agent/internal/config"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/extract"
	"github.com/dvloznov/finance-agent/internal/filestore"
	"github.com/dvloznov/finance-agent/internal/infra/sqlite"
	"github.com/dvloznov/finance-agent/internal/jobs"
	"github.com/dvloznov/finance-agent/internal/jobs/inmemory"
	"github.com/dvloznov/finance-agent/internal/llm"
	"github.com/dvloznov/finance-agent/internal/logger"
	"github.com/dvloznov/finance-agent/internal/rag"
	"github.com/dvloznov/finance-agent/internal/store"
)

// MockProvider is a mock implementation of llm.Provider for testing.
type MockProvider struct {
	NameValue             string
	ExtractStructuredFunc func(ctx context.Context, p llm.Prompt) (string, error)
	AnswerFunc            func(ctx context.Context, p llm.Prompt) (string, error)
	extractCalls          atomic.Int32
}

func (m *MockProvider) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

func (m *MockProvider) Model() string { return "mock-model" }

func (m *MockProvider) ExtractStructured(ctx context.Context, p llm.Prompt) (string, error) {
	m.extractCalls.Add(1)
	return m.ExtractStructuredFunc(ctx, p)
}

func (m *MockProvider) Answer(ctx context.Context, p llm.Prompt) (string, error) {
	return m.AnswerFunc(ctx, p)
}

// MockEmbedder is a mock implementation of rag.Embedder for testing. The
// vector counts two keywords so similarity is predictable.
type MockEmbedder struct{}

func (MockEmbedder) Model() string { return "mock-embed" }

func (MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		out[i] = []float32{
			float32(strings.Count(t, "tax")),
			float32(strings.Count(t, "budget")),
			0.1,
		}
	}
	return out, nil
}

const statementText = "CREDIT CARD STATEMENT\nStatement balance $85.50\nMinimum payment due 2024-02-15\n2024-01-15 GROCERY MART -85.50"

const groceryJSON = `{
  "document_type": "credit_card",
  "date_range": {"start_date": "2024-01-01", "end_date": "2024-01-31"},
  "account_info": {"account_number": "****1234", "institution": "Test Bank", "account_type": "credit"},
  "transactions": [
    {"date": "2024-01-15", "description": "Grocery Mart", "amount": -85.50, "category": "groceries", "type": "debit"}
  ],
  "summary": {"total_debits": -85.50, "total_credits": 0, "net_change": -85.50},
  "investments": [],
  "key_insights": ["Spending is low this month"]
}`

var testNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

type testApp struct {
	*app.App
	provider *MockProvider
	files    *filestore.Local
	store    *sqlite.Store
}

func newTestApp(t *testing.T, embedder rag.Embedder, factory app.ProviderFactory) *testApp {
	t.Helper()
	dir := t.TempDir()

	s, err := sqlite.Open(filepath.Join(dir, "finance.db"))
	require.NoError(t, err)
	files, err := filestore.NewLocal(filepath.Join(dir, "files"))
	require.NoError(t, err)

	provider := &MockProvider{
		ExtractStructuredFunc: func(context.Context, llm.Prompt) (string, error) { return groceryJSON, nil },
		AnswerFunc: func(_ context.Context, p llm.Prompt) (string, error) {
			return "You spent $85.50 on groceries.", nil
		},
	}

	var seq atomic.Int32
	a, err := app.New(app.Deps{
		Store:     s,
		Files:     files,
		Extractor: extract.New(logger.Nop(), extract.Options{}, extract.PlainTextStrategy{}),
		Provider:  provider,
		Index:     s,
		Embedder:  embedder,
	}, app.Options{
		Jobs:        inmemory.Options{Workers: 2, MaxRetries: 2, RetryBackoff: time.Millisecond},
		NewProvider: factory,
		Now:         func() time.Time { return testNow },
		NewID:       func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	return &testApp{App: a, provider: provider, files: files, store: s}
}

func TestUploadAndProcess(t *testing.T) {
	a := newTestApp(t, nil, nil)
	ctx := context.Background()

	doc, err := a.Upload(ctx, "statement.txt", []byte(statementText))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, doc.Status)
	assert.Equal(t, "statement.txt", doc.Filename)
	assert.Contains(t, doc.MIMEType, "text/plain")
	assert.EqualValues(t, len(statementText), doc.SizeBytes)

	res, err := a.Process(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeCreditCard, res.DocumentType)
	assert.Equal(t, 1, res.EntriesCreated)

	stored, err := a.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, stored.Status)

	summary, err := a.ProfileSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 28.5, summary.MonthlyExpenses)
	assert.Equal(t, -85.5, summary.ExpensesBySubcategory["food"])

	trend, err := a.SpendingTrend(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{85.5, 0}, trend["food"])
}

func TestUpload_Empty(t *testing.T) {
	a := newTestApp(t, nil, nil)

	_, err := a.Upload(context.Background(), "empty.pdf", nil)

	assert.True(t, errors.Is(err, app.ErrEmptyUpload))
}

func TestEnqueue_CompletesInBackground(t *testing.T) {
	a := newTestApp(t, nil, nil)
	ctx := context.Background()
	doc, err := a.Upload(ctx, "statement.txt", []byte(statementText))
	require.NoError(t, err)

	job, err := a.Enqueue(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, job.DocumentID)

	require.Eventually(t, func() bool {
		j, err := a.Job(ctx, job.JobID)
		return err == nil && j.Status == jobs.JobStatusCompleted && j.EntriesCreated == 1
	}, 3*time.Second, 10*time.Millisecond)

	listed, err := a.Jobs(ctx, jobs.JobFilter{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestEnqueue_UnknownDocument(t *testing.T) {
	a := newTestApp(t, nil, nil)

	_, err := a.Enqueue(context.Background(), "missing")

	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestEnqueue_MalformedAnalysisIsNotRetried(t *testing.T) {
	a := newTestApp(t, nil, nil)
	a.provider.ExtractStructuredFunc = func(context.Context, llm.Prompt) (string, error) {
		return `{"document_type": "credit_card"}`, nil
	}
	ctx := context.Background()
	doc, err := a.Upload(ctx, "statement.txt", []byte(statementText))
	require.NoError(t, err)

	job, err := a.Enqueue(ctx, doc.ID)
	require.NoError(t, err)

	var failed *jobs.ProcessDocumentJob
	require.Eventually(t, func() bool {
		j, err := a.Job(ctx, job.JobID)
		failed = j
		return err == nil && j.Status == jobs.JobStatusFailed
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, failed.RetryCount)
	assert.EqualValues(t, 1, a.provider.extractCalls.Load())

	stored, err := a.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "malformed")
}

func TestDeleteDocument_RemovesEntriesAndFile(t *testing.T) {
	a := newTestApp(t, nil, nil)
	ctx := context.Background()
	doc, err := a.Upload(ctx, "statement.txt", []byte(statementText))
	require.NoError(t, err)
	_, err = a.Process(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, a.DeleteDocument(ctx, doc.ID))

	_, err = a.GetDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	entries, err := a.Entries(ctx, store.LedgerFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(doc.StoragePath)
	assert.True(t, os.IsNotExist(err))

	assert.True(t, errors.Is(a.DeleteDocument(ctx, doc.ID), store.ErrNotFound))
}

func TestAddEntry_EnforcesSignConvention(t *testing.T) {
	a := newTestApp(t, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		entry   app.ManualEntry
		wantErr bool
	}{
		{"negative expense", app.ManualEntry{Category: domain.CategoryExpenses, Amount: decimal.NewFromInt(-20)}, false},
		{"positive expense", app.ManualEntry{Category: domain.CategoryExpenses, Amount: decimal.NewFromInt(20)}, true},
		{"positive asset", app.ManualEntry{Category: domain.CategoryAssets, Amount: decimal.NewFromInt(1000)}, false},
		{"negative income", app.ManualEntry{Category: domain.CategoryIncome, Amount: decimal.NewFromInt(-5)}, true},
		{"unknown category", app.ManualEntry{Category: "gifts", Amount: decimal.NewFromInt(5)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := a.AddEntry(ctx, tt.entry)
			if tt.wantErr {
				assert.True(t, errors.Is(err, app.ErrInvalidEntry))
				return
			}
			require.NoError(t, err)
			assert.True(t, e.IsManual())
			assert.Equal(t, testNow, e.Date)
		})
	}
}

func TestChat_UsesReferenceDocuments(t *testing.T) {
	a := newTestApp(t, MockEmbedder{}, nil)
	ctx := context.Background()
	var prompt llm.Prompt
	a.provider.AnswerFunc = func(_ context.Context, p llm.Prompt) (string, error) {
		prompt = p
		return "File by April 15.", nil
	}

	added, err := a.RAGAdd(ctx, "guide", "tax-guide.txt", "Tax returns are due on April 15.")
	require.NoError(t, err)
	assert.Equal(t, 1, added.ChunkCount)

	resp, err := a.Chat(ctx, "When is my tax return due?")
	require.NoError(t, err)
	assert.Equal(t, "File by April 15.", resp.Answer)
	assert.Contains(t, prompt.User, "Tax returns are due on April 15.")
	assert.Contains(t, string(resp.ContextUsed), "retrieved_context")

	history, err := a.ChatHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "When is my tax return due?", history[0].Message)

	docs, err := a.RAGList(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.True(t, docs[0].Processed)

	require.NoError(t, a.RAGDelete(ctx, "guide"))
	_, err = a.RAGInfo(ctx, "guide")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRAGAddFile_ExtractsText(t *testing.T) {
	a := newTestApp(t, MockEmbedder{}, nil)
	ctx := context.Background()

	res, err := a.RAGAddFile(ctx, "", "budget.md", []byte("A monthly budget keeps tax money aside."))
	require.NoError(t, err)
	assert.Equal(t, "id-1", res.DocumentID)

	results, err := a.RAGSearch(ctx, "budget", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "id-1", results[0].DocumentID)
}

func TestRAG_DisabledWithoutEmbedder(t *testing.T) {
	a := newTestApp(t, nil, nil)

	assert.False(t, a.RAGEnabled())
	_, err := a.RAGAdd(context.Background(), "guide", "guide.txt", "text")
	assert.True(t, errors.Is(err, rag.ErrDisabled))
}

func TestUpdateLLMSettings_SwapsProvider(t *testing.T) {
	replacement := &MockProvider{
		NameValue: "replacement",
		AnswerFunc: func(context.Context, llm.Prompt) (string, error) {
			return "from the new provider", nil
		},
	}
	var got config.LLM
	a := newTestApp(t, nil, func(_ context.Context, s config.LLM) (llm.Provider, error) {
		got = s
		return replacement, nil
	})
	ctx := context.Background()

	name, _ := a.LLMInfo()
	assert.Equal(t, "mock", name)

	require.NoError(t, a.UpdateLLMSettings(ctx, config.LLM{Provider: "anthropic", APIKey: "k", Timeout: time.Second}))

	assert.Equal(t, "anthropic", got.Provider)
	name, model := a.LLMInfo()
	assert.Equal(t, "replacement", name)
	assert.Equal(t, "mock-model", model)

	resp, err := a.Chat(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "from the new provider", resp.Answer)
}

func TestUpdateLLMSettings_FactoryError(t *testing.T) {
	boom := errors.New("bad key")
	a := newTestApp(t, nil, func(context.Context, config.LLM) (llm.Provider, error) { return nil, boom })

	err := a.UpdateLLMSettings(context.Background(), config.LLM{Provider: "openai"})

	assert.True(t, errors.Is(err, boom))
	name, _ := a.LLMInfo()
	assert.Equal(t, "mock", name)
}

func TestNew_FailsAbandonedClaims(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "finance.db")
	ctx := context.Background()

	files, err := filestore.NewLocal(filepath.Join(dir, "files"))
	require.NoError(t, err)
	path, err := files.Put(ctx, filestore.ObjectKey("doc-1", "statement.txt"), []byte(statementText))
	require.NoError(t, err)

	// A process that claimed a document and died before finishing.
	crashed, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, crashed.CreateDocument(ctx, &domain.Document{
		ID: "doc-1", Filename: "statement.txt", StoragePath: path, MIMEType: "text/plain",
	}))
	_, err = crashed.ClaimProcessing(ctx, "doc-1")
	require.NoError(t, err)
	require.NoError(t, crashed.Close())

	s, err := sqlite.Open(dbPath)
	require.NoError(t, err)

	a, err := app.New(app.Deps{
		Store:     s,
		Files:     files,
		Extractor: extract.New(logger.Nop(), extract.Options{}, extract.PlainTextStrategy{}),
		Provider: &MockProvider{ExtractStructuredFunc: func(context.Context, llm.Prompt) (string, error) {
			return groceryJSON, nil
		}},
	}, app.Options{
		Now:                  func() time.Time { return time.Now().Add(time.Hour) },
		StaleProcessingAfter: 10 * time.Minute,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	doc, err := a.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, doc.Status)
	assert.Contains(t, doc.FailureReason, "processing abandoned")

	res, err := a.Process(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.EntriesCreated)
}
