package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-agent/internal/domain"
)

// ParseAnalysis validates raw model output against the analysis schema and
// returns a fully populated analysis, or an error wrapping ErrMalformedAnalysis.
func ParseAnalysis(raw string) (*domain.StructuredAnalysis, error) {
	cleaned := cleanModelJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty model output", ErrMalformedAnalysis)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedAnalysis, err)
	}

	out, err := analysisFromMap(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	return out, nil
}

// cleanModelJSON strips markdown fences and anything outside the outermost
// JSON object.
func cleanModelJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

func analysisFromMap(obj map[string]interface{}) (*domain.StructuredAnalysis, error) {
	var (
		a   domain.StructuredAnalysis
		err error
	)

	if a.DocumentType, err = getStringField(obj, "document_type"); err != nil {
		return nil, err
	}

	if a.DateRange, err = parseDateRange(obj["date_range"]); err != nil {
		return nil, err
	}
	if a.AccountInfo, err = parseAccountInfo(obj["account_info"]); err != nil {
		return nil, err
	}

	rawTxns, ok := obj["transactions"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q must be an array", "transactions")
	}
	a.Transactions = make([]domain.Transaction, 0, len(rawTxns))
	for i, item := range rawTxns {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("transaction %d: not an object", i)
		}
		t, err := parseTransaction(m)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		a.Transactions = append(a.Transactions, t)
	}

	summary, ok := obj["summary"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q must be an object", "summary")
	}
	if a.Summary, err = parseSummary(summary); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	if rawInv, present := obj["investments"]; present && rawInv != nil {
		list, ok := rawInv.([]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q must be an array", "investments")
		}
		for i, item := range list {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("investment %d: not an object", i)
			}
			inv, err := parseInvestment(m)
			if err != nil {
				return nil, fmt.Errorf("investment %d: %w", i, err)
			}
			a.Investments = append(a.Investments, inv)
		}
	}

	a.KeyInsights = []string{}
	if rawIns, present := obj["key_insights"]; present && rawIns != nil {
		list, ok := rawIns.([]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q must be an array", "key_insights")
		}
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("key_insights[%d] has type %T, want string", i, item)
			}
			a.KeyInsights = append(a.KeyInsights, s)
		}
	}

	return &a, nil
}

func parseTransaction(m map[string]interface{}) (domain.Transaction, error) {
	var (
		t   domain.Transaction
		err error
	)
	if t.Date, err = getStringField(m, "date"); err != nil {
		return t, err
	}
	if _, err := time.Parse(domain.DateLayout, t.Date); err != nil {
		return t, fmt.Errorf("field %q: %q is not YYYY-MM-DD", "date", t.Date)
	}
	if t.Description, err = getStringField(m, "description"); err != nil {
		return t, err
	}
	if t.Amount, err = getFloat64Field(m, "amount"); err != nil {
		return t, err
	}
	if t.Category, err = getOptionalStringField(m, "category"); err != nil {
		return t, err
	}
	if t.Type, err = getOptionalStringField(m, "type"); err != nil {
		return t, err
	}
	return t, nil
}

func parseSummary(m map[string]interface{}) (domain.Summary, error) {
	var (
		s   domain.Summary
		err error
	)
	if s.TotalDebits, err = getFloat64Field(m, "total_debits"); err != nil {
		return s, err
	}
	if s.TotalCredits, err = getFloat64Field(m, "total_credits"); err != nil {
		return s, err
	}
	if s.NetChange, err = getFloat64Field(m, "net_change"); err != nil {
		return s, err
	}
	if s.StartingBalance, err = getOptionalFloat64Field(m, "starting_balance"); err != nil {
		return s, err
	}
	if s.EndingBalance, err = getOptionalFloat64Field(m, "ending_balance"); err != nil {
		return s, err
	}
	return s, nil
}

func parseInvestment(m map[string]interface{}) (domain.Investment, error) {
	var (
		inv domain.Investment
		err error
	)
	if inv.Symbol, err = getStringField(m, "symbol"); err != nil {
		return inv, err
	}
	if inv.Value, err = getFloat64Field(m, "value"); err != nil {
		return inv, err
	}
	if v, err := getOptionalFloat64Field(m, "shares"); err != nil {
		return inv, err
	} else if v != nil {
		inv.Shares = *v
	}
	if v, err := getOptionalFloat64Field(m, "price"); err != nil {
		return inv, err
	} else if v != nil {
		inv.Price = *v
	}
	if inv.Type, err = getOptionalStringField(m, "type"); err != nil {
		return inv, err
	}
	return inv, nil
}

func parseDateRange(v interface{}) (domain.DateRange, error) {
	var dr domain.DateRange
	if v == nil {
		return dr, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return dr, fmt.Errorf("field %q must be an object", "date_range")
	}
	var err error
	if dr.StartDate, err = getOptionalStringField(m, "start_date"); err != nil {
		return dr, err
	}
	if dr.EndDate, err = getOptionalStringField(m, "end_date"); err != nil {
		return dr, err
	}
	return dr, nil
}

func parseAccountInfo(v interface{}) (domain.AccountInfo, error) {
	var ai domain.AccountInfo
	if v == nil {
		return ai, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return ai, fmt.Errorf("field %q must be an object", "account_info")
	}
	var err error
	if ai.AccountNumber, err = getOptionalStringField(m, "account_number"); err != nil {
		return ai, err
	}
	if ai.Institution, err = getOptionalStringField(m, "institution"); err != nil {
		return ai, err
	}
	if ai.AccountType, err = getOptionalStringField(m, "account_type"); err != nil {
		return ai, err
	}
	return ai, nil
}

func getStringField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
	return s, nil
}

func getOptionalStringField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
	return s, nil
}

func getFloat64Field(m map[string]interface{}, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing required field %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
	return f, nil
}

func getOptionalFloat64Field(m map[string]interface{}, key string) (*float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("field %q has type %T, want number", key, v)
	}
	return &f, nil
}
