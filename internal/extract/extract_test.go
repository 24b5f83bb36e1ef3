package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-agent/internal/logger"
)

// MockStrategy is a Strategy whose behavior is supplied per test.
type MockStrategy struct {
	NameValue   string
	AttemptFunc func(ctx context.Context, data []byte) (string, error)
	Calls       int
}

func (m *MockStrategy) Name() string { return m.NameValue }

func (m *MockStrategy) Attempt(ctx context.Context, data []byte) (string, error) {
	m.Calls++
	return m.AttemptFunc(ctx, data)
}

func returning(name, text string, err error) *MockStrategy {
	return &MockStrategy{
		NameValue: name,
		AttemptFunc: func(context.Context, []byte) (string, error) {
			return text, err
		},
	}
}

const statementText = "CREDIT CARD STATEMENT\nBalance: $1,234.56"

func TestExtract_FirstUsableStrategyWins(t *testing.T) {
	a := returning("a", statementText, nil)
	b := returning("b", "never used but long enough text", nil)

	text, err := New(logger.Nop(), Options{}, a, b).Extract(context.Background(), []byte("x"))

	require.NoError(t, err)
	assert.Equal(t, statementText, text)
	assert.Equal(t, 0, b.Calls)
}

func TestExtract_FallsBackWhenFirstIsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		first *MockStrategy
	}{
		{name: "empty", first: returning("a", "", nil)},
		{name: "too short", first: returning("a", "   hi   ", nil)},
		{name: "binary noise", first: returning("a", strings.Repeat("\x00\x01\x02�", 20), nil)},
		{name: "error", first: returning("a", "", errors.New("boom"))},
		{
			name: "panic",
			first: &MockStrategy{NameValue: "a", AttemptFunc: func(context.Context, []byte) (string, error) {
				panic("malformed xref")
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := returning("b", statementText, nil)

			text, err := New(logger.Nop(), Options{}, tt.first, b).Extract(context.Background(), []byte("x"))

			require.NoError(t, err)
			assert.Equal(t, statementText, text)
			assert.Equal(t, 1, tt.first.Calls)
			assert.Equal(t, 1, b.Calls)
		})
	}
}

func TestExtract_AllStrategiesFail(t *testing.T) {
	a := returning("a", "", errors.New("no text layer"))
	b := returning("b", "??", nil)

	_, err := New(logger.Nop(), Options{}, a, b).Extract(context.Background(), []byte("x"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtraction))

	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	require.Len(t, extErr.Attempts, 2)
	assert.Equal(t, "a", extErr.Attempts[0].Strategy)
	assert.True(t, errors.Is(extErr.Attempts[1].Err, ErrGarbage))
	assert.Contains(t, err.Error(), "no text layer")
}

func TestExtract_NoStrategies(t *testing.T) {
	_, err := New(logger.Nop(), Options{}).Extract(context.Background(), []byte("x"))
	assert.True(t, errors.Is(err, ErrExtraction))
}

func TestExtract_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := returning("a", statementText, nil)

	_, err := New(logger.Nop(), Options{}, a).Extract(ctx, []byte("x"))

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, a.Calls)
}

func TestIsGarbage(t *testing.T) {
	opts := Options{MinTextLength: 10, MinPrintableRatio: 0.9}

	assert.True(t, IsGarbage("", opts))
	assert.True(t, IsGarbage("short", opts))
	assert.False(t, IsGarbage("plain readable text", opts))
	assert.True(t, IsGarbage("abc\x00\x00\x00\x00\x00\x00\x00", opts))
}

func TestPrintableRatio(t *testing.T) {
	assert.Equal(t, 0.0, PrintableRatio(""))
	assert.Equal(t, 1.0, PrintableRatio("Balance:\t$1,234.56\n"))
	assert.InDelta(t, 0.5, PrintableRatio("ab\x00\x01"), 1e-9)
}

func TestPDFStrategies_RejectNonPDF(t *testing.T) {
	for _, s := range []Strategy{PDFTextStrategy{}, PDFRowsStrategy{}} {
		_, err := s.Attempt(context.Background(), []byte(statementText))
		assert.True(t, errors.Is(err, ErrUnsupported), s.Name())
	}
}

func TestStrategies(t *testing.T) {
	e := New(logger.Nop(), Options{}, PDFTextStrategy{}, PDFRowsStrategy{}, PlainTextStrategy{})
	assert.Equal(t, []string{"pdf_text", "pdf_rows", "plain_text"}, e.Strategies())
}
