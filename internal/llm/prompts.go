package llm

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dvloznov/finance-agent/internal/domain"
)

const (
	AnalysisSystemPrompt = "You are a financial document analysis expert. Analyze documents and extract structured financial information."
	ChatSystemPrompt     = "You are a personal finance advisor with access to the user's financial profile. Provide helpful, specific advice based on their actual financial data."
)

// ChatMessage is one prior turn included in a chat prompt.
type ChatMessage struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ChatInput is everything the chat prompt is built from besides the question.
type ChatInput struct {
	Snapshot       domain.CompactContext `json:"profile"`
	RecentMessages []ChatMessage         `json:"recent_messages,omitempty"`
	Retrieved      string                `json:"retrieved_context,omitempty"`
}

var money = message.NewPrinter(language.English)

func formatMoney(v float64) string {
	if v < 0 {
		return money.Sprintf("-$%.2f", -v)
	}
	return money.Sprintf("$%.2f", v)
}

// ExtractionPrompt builds the structured extraction request for a document.
func ExtractionPrompt(docType domain.DocumentType, text string) string {
	if docType == "" {
		docType = domain.TypeOther
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following %s document and extract structured financial information.\n\n", docType)
	b.WriteString("Document Content:\n")
	b.WriteString(text)
	b.WriteString("\n\n")
	b.WriteString(`Return ONLY a JSON object with the following structure:
{
  "document_type": "credit_card|bank_statement|investment|tax_document|insurance|loan|other",
  "date_range": {"start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD"},
  "account_info": {
    "account_number": "masked account number",
    "institution": "bank/credit card company name",
    "account_type": "checking|savings|credit|investment|other"
  },
  "transactions": [
    {
      "date": "YYYY-MM-DD",
      "description": "transaction description",
      "amount": -123.45,
      "category": "food|gas|shopping|entertainment|utilities|transport|rent|income|salary|interest|dividend|investment|loan|mortgage|credit|other",
      "type": "debit|credit"
    }
  ],
  "summary": {
    "total_debits": -1234.56,
    "total_credits": 5678.90,
    "net_change": 4444.34,
    "starting_balance": 1000.00,
    "ending_balance": 5444.34
  },
  "investments": [
    {"symbol": "AAPL", "shares": 10.5, "price": 150.00, "value": 1575.00, "type": "stock|bond|mutual_fund|etf"}
  ],
  "key_insights": ["Notable patterns or important information extracted from the document"]
}

Rules:
- All monetary amounts are numbers: positive for credits/income, negative for debits/expenses.
- The summary block and its three totals are required.
- If information is not available, use null or empty arrays as appropriate.
- Do not add commentary outside the JSON object.
`)
	return b.String()
}

// ChatPrompt builds the grounded question prompt.
func ChatPrompt(in ChatInput, question string) string {
	var b strings.Builder

	b.WriteString("Financial Context:\n")
	b.WriteString(FormatSnapshot(in.Snapshot))

	if strings.TrimSpace(in.Retrieved) != "" {
		b.WriteString("\nReference Material:\n")
		b.WriteString(in.Retrieved)
		b.WriteString("\n")
	}

	if len(in.RecentMessages) > 0 {
		b.WriteString("\nRecent Conversation:\n")
		for _, m := range in.RecentMessages {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", m.Question, m.Answer)
		}
	}

	fmt.Fprintf(&b, "\nUser Question: %s\n\n", question)
	b.WriteString("Please provide a helpful response based on the financial context provided. ")
	b.WriteString("Be specific and reference actual numbers from the user's financial profile when relevant.\n")
	return b.String()
}

// FormatSnapshot renders the profile snapshot as labelled lines. Portfolio
// symbols are sorted so the output is deterministic.
func FormatSnapshot(s domain.CompactContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Net Worth: %s\n", formatMoney(s.NetWorth))
	fmt.Fprintf(&b, "Total Assets: %s\n", formatMoney(s.TotalAssets))
	fmt.Fprintf(&b, "Total Liabilities: %s\n", formatMoney(s.TotalLiabilities))
	fmt.Fprintf(&b, "Monthly Income: %s\n", formatMoney(s.MonthlyIncome))
	fmt.Fprintf(&b, "Monthly Expenses: %s\n", formatMoney(s.MonthlyExpenses))
	fmt.Fprintf(&b, "Monthly Savings: %s\n", formatMoney(s.MonthlySavings))

	if len(s.InvestmentPortfolio) > 0 {
		b.WriteString("Investment Portfolio:\n")
		symbols := make([]string, 0, len(s.InvestmentPortfolio))
		for sym := range s.InvestmentPortfolio {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			fmt.Fprintf(&b, "  - %s: %s\n", sym, formatMoney(s.InvestmentPortfolio[sym]))
		}
	}

	if len(s.RecentTransactions) > 0 {
		b.WriteString("Recent Transactions:\n")
		for _, t := range s.RecentTransactions {
			fmt.Fprintf(&b, "  - %s: %s %s (%s)\n", t.Date, t.Description, formatMoney(t.Amount), t.Category)
		}
	}
	return b.String()
}
