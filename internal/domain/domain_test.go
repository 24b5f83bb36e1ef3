package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID(t *testing.T) {
	assert.Equal(t, "ref-1_chunk_0", ChunkID("ref-1", 0))
	assert.Equal(t, "ref-1_chunk_12", ChunkID("ref-1", 12))
}

func TestDocument_CanStartProcessing(t *testing.T) {
	for _, s := range []DocumentStatus{StatusPending, StatusProcessed, StatusFailed} {
		d := Document{Status: s}
		assert.True(t, d.CanStartProcessing(), s)
	}
	d := Document{Status: StatusProcessing}
	assert.False(t, d.CanStartProcessing())
}

func TestLedgerEntry_Source(t *testing.T) {
	doc := "doc-1"
	sourced := LedgerEntry{SourceDocumentID: &doc}
	manual := LedgerEntry{}

	assert.False(t, sourced.IsManual())
	assert.True(t, sourced.SourcedBy("doc-1"))
	assert.False(t, sourced.SourcedBy("doc-2"))
	assert.True(t, manual.IsManual())
	assert.False(t, manual.SourcedBy("doc-1"))
}

func TestClampFailureReason(t *testing.T) {
	assert.Equal(t, "short", ClampFailureReason("short"))

	ascii := strings.Repeat("x", MaxFailureReason+10)
	assert.Len(t, ClampFailureReason(ascii), MaxFailureReason)

	// "€" is three bytes, so the limit falls inside a rune.
	euros := strings.Repeat("€", MaxFailureReason)
	got := ClampFailureReason(euros)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), MaxFailureReason)
	assert.Equal(t, MaxFailureReason/3*3, len(got))
}

func TestCheckSign(t *testing.T) {
	neg := decimal.NewFromFloat(-25)
	pos := decimal.NewFromFloat(40)

	tests := []struct {
		category Category
		amount   decimal.Decimal
		wantErr  bool
	}{
		{CategoryExpenses, neg, false},
		{CategoryExpenses, pos, true},
		{CategoryLiabilities, neg, false},
		{CategoryLiabilities, pos, true},
		{CategoryIncome, pos, false},
		{CategoryIncome, neg, true},
		{CategoryAssets, neg, true},
		{CategoryInvestments, pos, false},
		{CategoryInvestments, neg, true},
		{CategoryOther, neg, false},
		{CategoryOther, pos, false},
		{CategoryExpenses, decimal.Zero, false},
		{CategoryIncome, decimal.Zero, false},
	}

	for _, tt := range tests {
		err := CheckSign(tt.category, tt.amount)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrSignConvention), "%s %s", tt.category, tt.amount)
		} else {
			assert.NoError(t, err, "%s %s", tt.category, tt.amount)
		}
	}
}

func TestCategory_Valid(t *testing.T) {
	assert.True(t, CategoryLiabilities.Valid())
	assert.False(t, Category("savings").Valid())
	assert.False(t, Category("").Valid())
}

func TestStructuredAnalysis_JSONShape(t *testing.T) {
	a := StructuredAnalysis{
		DocumentType: "credit_card",
		DateRange:    DateRange{StartDate: "2024-01-01", EndDate: "2024-01-31"},
		Transactions: []Transaction{{Date: "2024-01-15", Description: "Grocery", Amount: -85.5, Category: "food"}},
		Summary:      Summary{TotalDebits: -85.5, NetChange: -85.5},
		KeyInsights:  []string{},
	}
	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, key := range []string{"document_type", "date_range", "account_info", "transactions", "summary", "key_insights"} {
		assert.Contains(t, m, key)
	}
	summary := m["summary"].(map[string]any)
	for _, key := range []string{"total_debits", "total_credits", "net_change"} {
		assert.Contains(t, summary, key)
	}

	end, ok := a.EndDate()
	require.True(t, ok)
	assert.Equal(t, 31, end.Day())
}
