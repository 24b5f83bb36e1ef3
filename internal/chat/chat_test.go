package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/infra/sqlite"
	"github.com/dvloznov/finance-agent/internal/llm"
	"github.com/dvloznov/finance-agent/internal/logger"
)

// MockProfile is a mock implementation of ProfileSource for testing.
type MockProfile struct {
	ChatContextFunc func(ctx context.Context) (*domain.CompactContext, error)
}

func (m *MockProfile) ChatContext(ctx context.Context) (*domain.CompactContext, error) {
	return m.ChatContextFunc(ctx)
}

// MockRetriever is a mock implementation of Retriever for testing.
type MockRetriever struct {
	HasDocumentsFunc    func(ctx context.Context) (bool, error)
	ContextForQueryFunc func(ctx context.Context, query string) (string, error)
}

func (m *MockRetriever) HasDocuments(ctx context.Context) (bool, error) {
	return m.HasDocumentsFunc(ctx)
}

func (m *MockRetriever) ContextForQuery(ctx context.Context, query string) (string, error) {
	return m.ContextForQueryFunc(ctx, query)
}

// MockAnswerer is a mock implementation of Answerer for testing.
type MockAnswerer struct {
	AnswerFunc func(ctx context.Context, question string, in llm.ChatInput) (string, error)
}

func (m *MockAnswerer) Answer(ctx context.Context, question string, in llm.ChatInput) (string, error) {
	return m.AnswerFunc(ctx, question, in)
}

func staticProfile(netWorth float64) *MockProfile {
	return &MockProfile{ChatContextFunc: func(context.Context) (*domain.CompactContext, error) {
		return &domain.CompactContext{NetWorth: netWorth, TotalAssets: netWorth}, nil
	}}
}

func setupChatStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "finance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func newOrchestrator(t *testing.T, s *sqlite.Store, r Retriever, a Answerer) *Orchestrator {
	t.Helper()
	n := 0
	return New(staticProfile(35000), r, a, s, Options{
		Now: func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("ex-%d", n)
		},
	}, logger.Nop())
}

func TestAsk_GroundsAnswerInProfile(t *testing.T) {
	s := setupChatStore(t)
	var got llm.ChatInput
	o := newOrchestrator(t, s, nil, &MockAnswerer{AnswerFunc: func(_ context.Context, q string, in llm.ChatInput) (string, error) {
		got = in
		return "Your net worth is $35,000.00.", nil
	}})
	ctx := context.Background()

	resp, err := o.Ask(ctx, "  What is my net worth?  ")

	require.NoError(t, err)
	assert.Equal(t, "Your net worth is $35,000.00.", resp.Answer)
	assert.Equal(t, 35000.0, got.Snapshot.NetWorth)
	assert.Empty(t, got.Retrieved)

	var used map[string]any
	require.NoError(t, json.Unmarshal(resp.ContextUsed, &used))
	assert.Equal(t, 35000.0, used["profile"].(map[string]any)["net_worth"])

	history, err := o.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ex-1", history[0].ID)
	assert.Equal(t, "What is my net worth?", history[0].Message)
	assert.JSONEq(t, string(resp.ContextUsed), string(history[0].ContextUsed))
}

func TestAsk_IncludesRetrievalAndRecentMessages(t *testing.T) {
	s := setupChatStore(t)
	var got llm.ChatInput
	retriever := &MockRetriever{
		HasDocumentsFunc: func(context.Context) (bool, error) { return true, nil },
		ContextForQueryFunc: func(_ context.Context, q string) (string, error) {
			return "[Relevance: 0.90] Roth IRA limits are $7,000.", nil
		},
	}
	o := newOrchestrator(t, s, retriever, &MockAnswerer{AnswerFunc: func(_ context.Context, q string, in llm.ChatInput) (string, error) {
		got = in
		return "answer to " + q, nil
	}})
	ctx := context.Background()

	_, err := o.Ask(ctx, "first question")
	require.NoError(t, err)
	_, err = o.Ask(ctx, "second question")
	require.NoError(t, err)

	assert.Equal(t, "[Relevance: 0.90] Roth IRA limits are $7,000.", got.Retrieved)
	require.Len(t, got.RecentMessages, 1)
	assert.Equal(t, llm.ChatMessage{Question: "first question", Answer: "answer to first question"}, got.RecentMessages[0])
}

func TestAsk_RetrievalFailureIsNotFatal(t *testing.T) {
	s := setupChatStore(t)
	retriever := &MockRetriever{
		HasDocumentsFunc: func(context.Context) (bool, error) { return true, nil },
		ContextForQueryFunc: func(context.Context, string) (string, error) {
			return "", errors.New("embedding provider down")
		},
	}
	o := newOrchestrator(t, s, retriever, &MockAnswerer{AnswerFunc: func(context.Context, string, llm.ChatInput) (string, error) {
		return "ok", nil
	}})

	resp, err := o.Ask(context.Background(), "question")

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Answer)
}

func TestAsk_ModelFailurePersistsNothing(t *testing.T) {
	s := setupChatStore(t)
	cause := &llm.ProviderError{Provider: "mock", Kind: llm.ErrProviderRateLimited}
	o := newOrchestrator(t, s, nil, &MockAnswerer{AnswerFunc: func(context.Context, string, llm.ChatInput) (string, error) {
		return "", cause
	}})
	ctx := context.Background()

	_, err := o.Ask(ctx, "question")

	assert.True(t, errors.Is(err, ErrChatUnavailable))
	assert.True(t, errors.Is(err, llm.ErrProviderRateLimited))

	history, err := o.History(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	o := newOrchestrator(t, setupChatStore(t), nil, &MockAnswerer{AnswerFunc: func(context.Context, string, llm.ChatInput) (string, error) {
		t.Fatal("model must not be called")
		return "", nil
	}})

	_, err := o.Ask(context.Background(), "   ")

	assert.True(t, errors.Is(err, ErrEmptyQuestion))
}

func TestHistory_LimitKeepsMostRecentOldestFirst(t *testing.T) {
	s := setupChatStore(t)
	o := newOrchestrator(t, s, nil, &MockAnswerer{AnswerFunc: func(_ context.Context, q string, _ llm.ChatInput) (string, error) {
		return "re: " + q, nil
	}})
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		_, err := o.Ask(ctx, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}

	history, err := o.History(ctx, 2)

	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "q3", history[0].Message)
	assert.Equal(t, "q4", history[1].Message)
}
