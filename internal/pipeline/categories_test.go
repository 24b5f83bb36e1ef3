package pipeline

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/finance-agent/internal/domain"
)

func TestMapCategory(t *testing.T) {
	negative := decimal.NewFromFloat(-12.5)
	positive := decimal.NewFromFloat(12.5)

	tests := []struct {
		name       string
		category   string
		amount     decimal.Decimal
		wantCat    domain.Category
		wantSubcat string
	}{
		{name: "food", category: "food", amount: negative, wantCat: domain.CategoryExpenses, wantSubcat: "food"},
		{name: "groceries map to food", category: "Groceries", amount: negative, wantCat: domain.CategoryExpenses, wantSubcat: "food"},
		{name: "fuel maps to gas", category: "  FUEL ", amount: negative, wantCat: domain.CategoryExpenses, wantSubcat: "gas"},
		{name: "salary", category: "salary", amount: positive, wantCat: domain.CategoryIncome, wantSubcat: "salary"},
		{name: "payroll is salary", category: "Payroll", amount: positive, wantCat: domain.CategoryIncome, wantSubcat: "salary"},
		{name: "dividend", category: "dividend", amount: positive, wantCat: domain.CategoryIncome, wantSubcat: "dividend"},
		{name: "mutual fund with underscore", category: "mutual_fund", amount: positive, wantCat: domain.CategoryInvestments, wantSubcat: "mutual_fund"},
		{name: "mutual fund with dash", category: "Mutual-Fund", amount: positive, wantCat: domain.CategoryInvestments, wantSubcat: "mutual_fund"},
		{name: "mortgage", category: "mortgage", amount: negative, wantCat: domain.CategoryLiabilities, wantSubcat: "mortgage"},
		{name: "interest charge is an expense", category: "interest", amount: negative, wantCat: domain.CategoryExpenses, wantSubcat: "interest"},
		{name: "food refund is income", category: "food", amount: positive, wantCat: domain.CategoryIncome, wantSubcat: "other"},
		{name: "credit inflow is income", category: "credit", amount: positive, wantCat: domain.CategoryIncome, wantSubcat: "other"},
		{name: "stock purchase is an expense", category: "stock", amount: negative, wantCat: domain.CategoryExpenses, wantSubcat: "stock"},
		{name: "zero keeps table match", category: "loan", amount: decimal.Zero, wantCat: domain.CategoryLiabilities, wantSubcat: "loan"},
		{name: "unmapped outflow", category: "travel", amount: negative, wantCat: domain.CategoryExpenses, wantSubcat: "other"},
		{name: "unmapped inflow", category: "refund", amount: positive, wantCat: domain.CategoryIncome, wantSubcat: "other"},
		{name: "unmapped zero", category: "", amount: decimal.Zero, wantCat: domain.CategoryOther, wantSubcat: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapCategory(tt.category, tt.amount)
			assert.Equal(t, tt.wantCat, got.Category)
			assert.Equal(t, tt.wantSubcat, got.Subcategory)
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "mutual fund", normalizeCategory("  Mutual__Fund "))
	assert.Equal(t, "etf", normalizeCategory("ETF"))
}
