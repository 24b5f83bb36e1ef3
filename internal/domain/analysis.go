package domain

import "time"

// DateLayout is the calendar date format used throughout analysis payloads.
const DateLayout = "2006-01-02"

// StructuredAnalysis is the persisted analysis payload. Field names are part
// of the stored JSON contract and must not change.
type StructuredAnalysis struct {
	DocumentType string        `json:"document_type"`
	DateRange    DateRange     `json:"date_range"`
	AccountInfo  AccountInfo   `json:"account_info"`
	Transactions []Transaction `json:"transactions"`
	Summary      Summary       `json:"summary"`
	Investments  []Investment  `json:"investments"`
	KeyInsights  []string      `json:"key_insights"`
}

type DateRange struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

type AccountInfo struct {
	AccountNumber string `json:"account_number,omitempty"`
	Institution   string `json:"institution,omitempty"`
	AccountType   string `json:"account_type,omitempty"`
}

// Summary is the totals block. The three required totals are plain numbers;
// balances are optional because many statements omit them.
type Summary struct {
	TotalDebits     float64  `json:"total_debits"`
	TotalCredits    float64  `json:"total_credits"`
	NetChange       float64  `json:"net_change"`
	StartingBalance *float64 `json:"starting_balance,omitempty"`
	EndingBalance   *float64 `json:"ending_balance,omitempty"`
}

// EndDate parses DateRange.EndDate, returning ok=false when absent or invalid.
func (a *StructuredAnalysis) EndDate() (time.Time, bool) {
	if a == nil || a.DateRange.EndDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, a.DateRange.EndDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
