package domain

// Transaction is one row of the "transactions" list in a structured analysis.
// Amount follows the model's sign convention: money in is positive, money
// out is negative.
type Transaction struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Type        string  `json:"type,omitempty"` // debit | credit
}

// Investment is one holding reported by an investment statement.
type Investment struct {
	Symbol string  `json:"symbol"`
	Shares float64 `json:"shares"`
	Price  float64 `json:"price"`
	Value  float64 `json:"value"`
	Type   string  `json:"type,omitempty"` // stock | bond | mutual_fund | etf
}
