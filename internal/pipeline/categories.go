package pipeline

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// CategoryMapping is the ledger placement of a model category.
type CategoryMapping struct {
	Category    domain.Category
	Subcategory string
}

// categoryTable maps normalized model categories to ledger categories.
var categoryTable = map[string]CategoryMapping{
	"food":       {domain.CategoryExpenses, "food"},
	"groceries":  {domain.CategoryExpenses, "food"},
	"dining":     {domain.CategoryExpenses, "food"},
	"restaurant": {domain.CategoryExpenses, "food"},

	"gas":  {domain.CategoryExpenses, "gas"},
	"fuel": {domain.CategoryExpenses, "gas"},

	"shopping":      {domain.CategoryExpenses, "shopping"},
	"entertainment": {domain.CategoryExpenses, "entertainment"},
	"utilities":     {domain.CategoryExpenses, "utilities"},
	"transport":     {domain.CategoryExpenses, "transport"},
	"rent":          {domain.CategoryExpenses, "rent"},

	"income":   {domain.CategoryIncome, "income"},
	"salary":   {domain.CategoryIncome, "salary"},
	"payroll":  {domain.CategoryIncome, "salary"},
	"wages":    {domain.CategoryIncome, "salary"},
	"interest": {domain.CategoryIncome, "interest"},
	"dividend": {domain.CategoryIncome, "dividend"},

	"investment":  {domain.CategoryInvestments, "investment"},
	"stock":       {domain.CategoryInvestments, "stock"},
	"bond":        {domain.CategoryInvestments, "bond"},
	"mutual fund": {domain.CategoryInvestments, "mutual_fund"},
	"etf":         {domain.CategoryInvestments, "etf"},

	"credit":   {domain.CategoryLiabilities, "credit"},
	"loan":     {domain.CategoryLiabilities, "loan"},
	"mortgage": {domain.CategoryLiabilities, "mortgage"},
}

// MapCategory places a model category in the ledger. A table match whose
// category disagrees with the amount sign is re-placed by the sign: outflows
// become expenses keeping the matched subcategory, inflows become income
// "other". Unknown categories are placed by sign alone.
func MapCategory(modelCategory string, amount decimal.Decimal) CategoryMapping {
	m, ok := categoryTable[normalizeCategory(modelCategory)]
	if ok && domain.CheckSign(m.Category, amount) == nil {
		return m
	}

	switch amount.Sign() {
	case -1:
		sub := domain.SubcategoryOther
		if ok {
			sub = m.Subcategory
		}
		return CategoryMapping{domain.CategoryExpenses, sub}
	case 1:
		return CategoryMapping{domain.CategoryIncome, domain.SubcategoryOther}
	default:
		return CategoryMapping{domain.CategoryOther, domain.SubcategoryOther}
	}
}

// normalizeCategory lower-cases, trims and treats '_' and '-' as spaces.
func normalizeCategory(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}
