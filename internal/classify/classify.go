// Package classify labels extracted document text with a document type using
// keyword rules. It makes no external calls.
package classify

import (
	"errors"
	"strings"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// ErrClassificationAmbiguous is returned alongside domain.TypeOther when no
// rule matched. It is informational; processing continues.
var ErrClassificationAmbiguous = errors.New("document type could not be determined")

// DefaultMinMatches is the number of phrase hits a rule needs to be considered.
const DefaultMinMatches = 1

// Rule maps a document type to its trigger phrases. Phrases are lower case.
type Rule struct {
	Type    domain.DocumentType
	Phrases []string
}

// DefaultRules are declared from most to least specific; earlier rules win ties.
var DefaultRules = []Rule{
	{
		Type: domain.TypeCreditCard,
		Phrases: []string{
			"credit card", "statement balance", "minimum payment", "payment due",
			"available credit", "credit limit", "annual percentage rate",
		},
	},
	{
		Type: domain.TypeBankStatement,
		Phrases: []string{
			"checking account", "savings account", "account balance",
			"deposits", "withdrawals", "opening balance", "closing balance",
		},
	},
	{
		Type: domain.TypeInvestment,
		Phrases: []string{
			"portfolio", "securities", "dividend", "capital gains",
			"mutual fund", "stock", "bond", "investment account",
		},
	},
	{
		Type: domain.TypeTaxDocument,
		Phrases: []string{
			"form 1040", "tax return", "w-2", "1099", "irs",
			"adjusted gross income", "taxable income",
		},
	},
	{
		Type: domain.TypeInsurance,
		Phrases: []string{
			"insurance", "policy", "premium", "deductible", "coverage", "claim",
		},
	},
	{
		Type: domain.TypeLoan,
		Phrases: []string{
			"mortgage", "loan", "principal", "interest rate",
			"monthly payment", "balance remaining",
		},
	},
}

// Classifier picks the rule with the most distinct phrase hits.
type Classifier struct {
	rules      []Rule
	minMatches int
}

// New returns a Classifier over rules. A nil rules slice uses DefaultRules.
func New(rules []Rule, minMatches int) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	if minMatches < 1 {
		minMatches = DefaultMinMatches
	}
	return &Classifier{rules: rules, minMatches: minMatches}
}

// Classify returns the best matching type. When nothing reaches the minimum
// the result is domain.TypeOther with ErrClassificationAmbiguous.
func (c *Classifier) Classify(text string) (domain.DocumentType, error) {
	scores := c.Scores(text)

	best, bestScore := domain.TypeOther, 0
	for _, r := range c.rules {
		if s := scores[r.Type]; s >= c.minMatches && s > bestScore {
			best, bestScore = r.Type, s
		}
	}
	if bestScore == 0 {
		return domain.TypeOther, ErrClassificationAmbiguous
	}
	return best, nil
}

// Scores counts distinct phrase hits per type.
func (c *Classifier) Scores(text string) map[domain.DocumentType]int {
	lower := strings.ToLower(text)
	scores := make(map[domain.DocumentType]int, len(c.rules))
	for _, r := range c.rules {
		n := 0
		for _, p := range r.Phrases {
			if strings.Contains(lower, p) {
				n++
			}
		}
		scores[r.Type] = n
	}
	return scores
}
