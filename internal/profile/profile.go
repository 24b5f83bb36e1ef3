// Package profile folds the ledger into a financial profile at read time.
// Nothing it computes is stored.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/store"
)

// ErrInvalidPeriod is returned for a non-positive trend window.
var ErrInvalidPeriod = errors.New("period must be positive")

const (
	DefaultRecentLimit     = 20
	DefaultChatRecentLimit = 10
	DefaultTrailingMonths  = 3

	daysPerMonth = 30
)

// Options tune the aggregator. Zero values use defaults.
type Options struct {
	RecentLimit     int
	ChatRecentLimit int
	TrailingMonths  int
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RecentLimit <= 0 {
		o.RecentLimit = DefaultRecentLimit
	}
	if o.ChatRecentLimit <= 0 {
		o.ChatRecentLimit = DefaultChatRecentLimit
	}
	if o.TrailingMonths <= 0 {
		o.TrailingMonths = DefaultTrailingMonths
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Aggregator computes profile views over a ledger.
type Aggregator struct {
	ledger store.LedgerRepository
	opts   Options
	log    zerolog.Logger
}

// New creates an Aggregator.
func New(ledger store.LedgerRepository, opts Options, log zerolog.Logger) *Aggregator {
	return &Aggregator{ledger: ledger, opts: opts.withDefaults(), log: log}
}

// Summary returns the full profile.
func (a *Aggregator) Summary(ctx context.Context) (*domain.FinancialProfile, error) {
	entries, err := a.ledger.ListEntries(ctx, store.LedgerFilter{})
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	p := a.fold(entries, a.opts.RecentLimit)
	a.log.Debug().Int("entries", len(entries)).Float64("net_worth", p.NetWorth).Msg("profile computed")
	return p, nil
}

// ChatContext returns the compact snapshot used to ground chat answers.
func (a *Aggregator) ChatContext(ctx context.Context) (*domain.CompactContext, error) {
	entries, err := a.ledger.ListEntries(ctx, store.LedgerFilter{})
	if err != nil {
		return nil, fmt.Errorf("ChatContext: %w", err)
	}
	p := a.fold(entries, a.opts.ChatRecentLimit)
	return &domain.CompactContext{
		NetWorth:            p.NetWorth,
		TotalAssets:         p.TotalAssets,
		TotalLiabilities:    p.TotalLiabilities,
		MonthlyIncome:       p.MonthlyIncome,
		MonthlyExpenses:     p.MonthlyExpenses,
		MonthlySavings:      p.MonthlySavings,
		InvestmentPortfolio: p.InvestmentPortfolio,
		RecentTransactions:  p.RecentTransactions,
	}, nil
}

// fold computes the profile. entries must be ordered by date descending.
func (a *Aggregator) fold(entries []*domain.LedgerEntry, recentLimit int) *domain.FinancialProfile {
	now := a.opts.Now()
	since := startOfDay(now).AddDate(0, 0, -daysPerMonth*a.opts.TrailingMonths)
	months := decimal.NewFromInt(int64(a.opts.TrailingMonths))

	var assets, liabilities, income, expenses decimal.Decimal
	bySubcategory := map[string]decimal.Decimal{}
	portfolio := map[string]decimal.Decimal{}

	for _, e := range entries {
		switch e.Category {
		case domain.CategoryAssets, domain.CategoryInvestments:
			if e.Amount.IsPositive() {
				assets = assets.Add(e.Amount)
			}
		case domain.CategoryLiabilities:
			if e.Amount.IsNegative() {
				liabilities = liabilities.Add(e.Amount.Abs())
			}
		}

		inWindow := !e.Date.Before(since)
		if inWindow && e.Category == domain.CategoryIncome && e.Amount.IsPositive() {
			income = income.Add(e.Amount)
		}
		if inWindow && e.Category == domain.CategoryExpenses && e.Amount.IsNegative() {
			expenses = expenses.Add(e.Amount.Abs())
		}

		if e.Category == domain.CategoryExpenses {
			sub := subcategoryOf(e)
			bySubcategory[sub] = bySubcategory[sub].Add(e.Amount)
		}

		// Every positive investments amount counted in assets also lands in
		// its symbol's portfolio total.
		if e.Category == domain.CategoryInvestments && e.Amount.IsPositive() {
			if symbol, _ := e.Metadata[domain.MetaSymbol].(string); symbol != "" {
				portfolio[symbol] = portfolio[symbol].Add(e.Amount)
			}
		}
	}

	p := &domain.FinancialProfile{
		TotalAssets:           assets.Round(2).InexactFloat64(),
		TotalLiabilities:      liabilities.Round(2).InexactFloat64(),
		MonthlyIncome:         income.Div(months).Round(2).InexactFloat64(),
		MonthlyExpenses:       expenses.Div(months).Round(2).InexactFloat64(),
		ExpensesBySubcategory: make(map[string]float64, len(bySubcategory)),
		InvestmentPortfolio:   toFloats(portfolio),
		RecentTransactions:    recentTransactions(entries, recentLimit),
		EntryCount:            len(entries),
		LastUpdated:           now.UTC().Format(time.RFC3339),
	}
	// Derived from the reported figures so the identities hold exactly on
	// what callers see.
	p.NetWorth = p.TotalAssets - p.TotalLiabilities
	p.MonthlySavings = p.MonthlyIncome - p.MonthlyExpenses
	for sub, total := range bySubcategory {
		p.ExpensesBySubcategory[sub] = total.InexactFloat64()
	}
	return p
}

func recentTransactions(entries []*domain.LedgerEntry, limit int) []domain.RecentTransaction {
	n := len(entries)
	if n > limit {
		n = limit
	}
	out := make([]domain.RecentTransaction, 0, n)
	for _, e := range entries[:n] {
		out = append(out, domain.RecentTransaction{
			Date:        e.Date.Format(domain.DateLayout),
			Description: e.Description,
			Amount:      e.Amount.InexactFloat64(),
			Category:    e.Category,
			Subcategory: e.Subcategory,
		})
	}
	return out
}

// SpendingTrend returns expense outflow per subcategory for each of the last
// months calendar months, oldest first. The current month is the last slot.
func (a *Aggregator) SpendingTrend(ctx context.Context, months int) (map[string][]float64, error) {
	if months <= 0 {
		return nil, fmt.Errorf("SpendingTrend: %d: %w", months, ErrInvalidPeriod)
	}

	now := a.opts.Now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	entries, err := a.ledger.ListEntries(ctx, store.LedgerFilter{Since: first})
	if err != nil {
		return nil, fmt.Errorf("SpendingTrend: %w", err)
	}

	totals := map[string][]decimal.Decimal{}
	for _, e := range entries {
		if e.Category != domain.CategoryExpenses || !e.Amount.IsNegative() {
			continue
		}
		slot := monthIndex(first, e.Date)
		if slot < 0 || slot >= months {
			continue
		}
		sub := subcategoryOf(e)
		if totals[sub] == nil {
			totals[sub] = make([]decimal.Decimal, months)
		}
		totals[sub][slot] = totals[sub][slot].Add(e.Amount.Abs())
	}

	out := make(map[string][]float64, len(totals))
	for sub, slots := range totals {
		series := make([]float64, months)
		for i, v := range slots {
			series[i] = v.InexactFloat64()
		}
		out[sub] = series
	}
	return out, nil
}

// SpendingPeriod is the day-level spending breakdown over a trailing window.
type SpendingPeriod struct {
	PeriodDays           int                `json:"period_days"`
	CategoryTotals       map[string]float64 `json:"category_totals"`
	DailySpending        map[string]float64 `json:"daily_spending"`
	TotalSpending        float64            `json:"total_spending"`
	AverageDailySpending float64            `json:"average_daily_spending"`
}

// SpendingByPeriod sums every outflow in the trailing days window by top
// category and by day. The daily average is over days with spending.
func (a *Aggregator) SpendingByPeriod(ctx context.Context, days int) (*SpendingPeriod, error) {
	if days <= 0 {
		return nil, fmt.Errorf("SpendingByPeriod: %d: %w", days, ErrInvalidPeriod)
	}

	since := startOfDay(a.opts.Now()).AddDate(0, 0, -days)
	entries, err := a.ledger.ListEntries(ctx, store.LedgerFilter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("SpendingByPeriod: %w", err)
	}

	var (
		total      decimal.Decimal
		byCategory = map[string]decimal.Decimal{}
		byDay      = map[string]decimal.Decimal{}
	)
	for _, e := range entries {
		if !e.Amount.IsNegative() {
			continue
		}
		out := e.Amount.Abs()
		total = total.Add(out)
		byCategory[string(e.Category)] = byCategory[string(e.Category)].Add(out)
		day := e.Date.Format(domain.DateLayout)
		byDay[day] = byDay[day].Add(out)
	}

	res := &SpendingPeriod{
		PeriodDays:     days,
		CategoryTotals: toFloats(byCategory),
		DailySpending:  toFloats(byDay),
		TotalSpending:  total.InexactFloat64(),
	}
	if len(byDay) > 0 {
		res.AverageDailySpending = total.Div(decimal.NewFromInt(int64(len(byDay)))).Round(2).InexactFloat64()
	}
	return res, nil
}

// Categories returns the subcategory keys of a trend in sorted order.
func Categories(trend map[string][]float64) []string {
	keys := make([]string, 0, len(trend))
	for k := range trend {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func subcategoryOf(e *domain.LedgerEntry) string {
	if e.Subcategory == "" {
		return domain.SubcategoryOther
	}
	return e.Subcategory
}

func monthIndex(first, t time.Time) int {
	t = t.UTC()
	return (t.Year()-first.Year())*12 + int(t.Month()) - int(first.Month())
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func toFloats(m map[string]decimal.Decimal) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v.InexactFloat64()
	}
	return out
}
