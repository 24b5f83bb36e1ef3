package pipeline

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// DefaultInsight is returned when an analysis yields nothing worth noting.
const DefaultInsight = "Document processed successfully"

var (
	largeExpenseThreshold = decimal.NewFromInt(-100)
	largeIncomeThreshold  = decimal.NewFromInt(100)
)

// Insights summarizes an analysis as short human-readable lines.
func Insights(a *domain.StructuredAnalysis) []string {
	if a == nil {
		return []string{DefaultInsight}
	}

	var out []string

	net := decimal.NewFromFloat(a.Summary.NetChange)
	switch net.Sign() {
	case 1:
		out = append(out, fmt.Sprintf("Net increase of $%s", net.StringFixed(2)))
	case -1:
		out = append(out, fmt.Sprintf("Net decrease of $%s", net.Abs().StringFixed(2)))
	}

	if n := len(a.Transactions); n > 0 {
		out = append(out, fmt.Sprintf("Processed %d transactions", n))

		var largestExpense, largestIncome *domain.Transaction
		for i := range a.Transactions {
			tx := &a.Transactions[i]
			amount := decimal.NewFromFloat(tx.Amount)
			if amount.LessThan(largeExpenseThreshold) && (largestExpense == nil || tx.Amount < largestExpense.Amount) {
				largestExpense = tx
			}
			if amount.GreaterThan(largeIncomeThreshold) && (largestIncome == nil || tx.Amount > largestIncome.Amount) {
				largestIncome = tx
			}
		}
		if largestExpense != nil {
			out = append(out, fmt.Sprintf("Largest expense: $%s - %s",
				decimal.NewFromFloat(largestExpense.Amount).Abs().StringFixed(2), largestExpense.Description))
		}
		if largestIncome != nil {
			out = append(out, fmt.Sprintf("Largest income: $%s - %s",
				decimal.NewFromFloat(largestIncome.Amount).StringFixed(2), largestIncome.Description))
		}
	}

	if len(a.Investments) > 0 {
		total := decimal.Zero
		for _, inv := range a.Investments {
			total = total.Add(decimal.NewFromFloat(inv.Value))
		}
		out = append(out, fmt.Sprintf("Total investment value: $%s", total.StringFixed(2)))
	}

	out = append(out, a.KeyInsights...)

	if len(out) == 0 {
		return []string{DefaultInsight}
	}
	return out
}
