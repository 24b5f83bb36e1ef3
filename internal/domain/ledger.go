package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Category is a top-level ledger category.
type Category string

const (
	CategoryIncome      Category = "income"
	CategoryExpenses    Category = "expenses"
	CategoryAssets      Category = "assets"
	CategoryLiabilities Category = "liabilities"
	CategoryInvestments Category = "investments"
	CategoryOther       Category = "other"
)

// ErrSignConvention is returned when an amount's sign contradicts its category.
var ErrSignConvention = errors.New("amount sign contradicts category")

// Valid reports whether c is one of the ledger categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryIncome, CategoryExpenses, CategoryAssets, CategoryLiabilities, CategoryInvestments, CategoryOther:
		return true
	}
	return false
}

// Sign is the sign amounts in c carry: -1 for expenses and liabilities, +1
// for income, assets and investments, 0 when either sign is allowed.
func (c Category) Sign() int {
	switch c {
	case CategoryExpenses, CategoryLiabilities:
		return -1
	case CategoryIncome, CategoryAssets, CategoryInvestments:
		return 1
	}
	return 0
}

// CheckSign returns an error wrapping ErrSignConvention when amount has the
// opposite sign of c. Zero fits every category.
func CheckSign(c Category, amount decimal.Decimal) error {
	want := c.Sign()
	if want == 0 || amount.Sign() == 0 || amount.Sign() == want {
		return nil
	}
	if want < 0 {
		return fmt.Errorf("%w: %s amounts must be negative, got %s", ErrSignConvention, c, amount.String())
	}
	return fmt.Errorf("%w: %s amounts must be positive, got %s", ErrSignConvention, c, amount.String())
}

// SubcategoryOther marks an entry whose model category could not be mapped.
const SubcategoryOther = "other"

// Metadata keys written by the pipeline.
const (
	MetaOriginalCategory = "original_category"
	MetaTransactionType  = "transaction_type"
	MetaSymbol           = "symbol"
	MetaShares           = "shares"
	MetaPrice            = "price"
)

// LedgerEntry is one monetary fact. Expenses and liabilities are negative,
// income and assets are positive.
type LedgerEntry struct {
	ID               string          `json:"id"`
	Category         Category        `json:"category"`
	Subcategory      string          `json:"subcategory,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Date             time.Time       `json:"date"`
	Description      string          `json:"description"`
	SourceDocumentID *string         `json:"source_document_id,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// IsManual reports whether the entry was entered by hand rather than emitted
// by document processing.
func (e LedgerEntry) IsManual() bool {
	return e.SourceDocumentID == nil
}

// SourcedBy reports whether the entry was emitted for documentID.
func (e LedgerEntry) SourcedBy(documentID string) bool {
	return e.SourceDocumentID != nil && *e.SourceDocumentID == documentID
}
