package pipeline

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// StageEntries converts an analysis into ledger entries owned by documentID.
// Transactions map 1:1; each investment becomes an investments entry dated at
// the statement end date, or processedAt when the analysis has none. Every
// entry honours the category sign convention; a negative investment value
// fails the whole analysis with ErrSignConvention.
func StageEntries(documentID string, a *domain.StructuredAnalysis, processedAt time.Time, newID func() string) ([]*domain.LedgerEntry, error) {
	if a == nil {
		return nil, fmt.Errorf("StageEntries: nil analysis")
	}

	entries := make([]*domain.LedgerEntry, 0, len(a.Transactions)+len(a.Investments))

	for i, tx := range a.Transactions {
		date, err := time.Parse(domain.DateLayout, tx.Date)
		if err != nil {
			return nil, fmt.Errorf("StageEntries: transaction %d: invalid date %q: %w", i, tx.Date, err)
		}
		amount := decimal.NewFromFloat(tx.Amount)
		mapping := MapCategory(tx.Category, amount)

		entries = append(entries, &domain.LedgerEntry{
			ID:               newID(),
			Category:         mapping.Category,
			Subcategory:      mapping.Subcategory,
			Amount:           amount,
			Date:             date,
			Description:      tx.Description,
			SourceDocumentID: stringPtr(documentID),
			Metadata: map[string]any{
				domain.MetaOriginalCategory: tx.Category,
				domain.MetaTransactionType:  transactionType(tx),
			},
		})
	}

	investmentDate := processedAt.UTC().Truncate(24 * time.Hour)
	if end, ok := a.EndDate(); ok {
		investmentDate = end
	}

	for _, inv := range a.Investments {
		subcategory := inv.Type
		if subcategory == "" {
			subcategory = domain.SubcategoryOther
		}
		entries = append(entries, &domain.LedgerEntry{
			ID:               newID(),
			Category:         domain.CategoryInvestments,
			Subcategory:      subcategory,
			Amount:           decimal.NewFromFloat(inv.Value),
			Date:             investmentDate,
			Description:      fmt.Sprintf("%s - %s shares", inv.Symbol, decimal.NewFromFloat(inv.Shares).String()),
			SourceDocumentID: stringPtr(documentID),
			Metadata: map[string]any{
				domain.MetaSymbol: inv.Symbol,
				domain.MetaShares: inv.Shares,
				domain.MetaPrice:  inv.Price,
			},
		})
	}

	for i, e := range entries {
		if err := domain.CheckSign(e.Category, e.Amount); err != nil {
			return nil, fmt.Errorf("StageEntries: entry %d (%s): %w", i, e.Description, err)
		}
	}
	return entries, nil
}

// transactionType returns the model's debit/credit label, deriving it from
// the sign when absent.
func transactionType(tx domain.Transaction) string {
	if tx.Type != "" {
		return tx.Type
	}
	if tx.Amount < 0 {
		return "debit"
	}
	return "credit"
}

func stringPtr(s string) *string { return &s }
