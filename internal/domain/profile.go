package domain

// FinancialProfile is the read-time aggregate over all ledger entries.
// Liabilities and expenses are reported as positive magnitudes.
type FinancialProfile struct {
	TotalAssets           float64             `json:"total_assets"`
	TotalLiabilities      float64             `json:"total_liabilities"`
	NetWorth              float64             `json:"net_worth"`
	MonthlyIncome         float64             `json:"monthly_income"`
	MonthlyExpenses       float64             `json:"monthly_expenses"`
	MonthlySavings        float64             `json:"monthly_savings"`
	ExpensesBySubcategory map[string]float64  `json:"expenses_by_subcategory"`
	InvestmentPortfolio   map[string]float64  `json:"investment_portfolio"`
	RecentTransactions    []RecentTransaction `json:"recent_transactions"`
	EntryCount            int                 `json:"entry_count"`
	LastUpdated           string              `json:"last_updated"`
}

// RecentTransaction is the display form of a ledger entry.
type RecentTransaction struct {
	Date        string   `json:"date"`
	Description string   `json:"description"`
	Amount      float64  `json:"amount"`
	Category    Category `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
}

// CompactContext is the bounded snapshot handed to the chat model.
type CompactContext struct {
	NetWorth            float64             `json:"net_worth"`
	TotalAssets         float64             `json:"total_assets"`
	TotalLiabilities    float64             `json:"total_liabilities"`
	MonthlyIncome       float64             `json:"monthly_income"`
	MonthlyExpenses     float64             `json:"monthly_expenses"`
	MonthlySavings      float64             `json:"monthly_savings"`
	InvestmentPortfolio map[string]float64  `json:"investment_portfolio"`
	RecentTransactions  []RecentTransaction `json:"recent_transactions"`
}
