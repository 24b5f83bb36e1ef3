package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-agent/internal/app"
	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/profile"
	"github.com/dvloznov/finance-agent/internal/store"
)

func (c *cli) profileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the financial profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.svc.ProfileSummary(cmd.Context())
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, p); ok {
				return err
			}
			cmd.Printf("Net worth:         %12.2f\n", p.NetWorth)
			cmd.Printf("Total assets:      %12.2f\n", p.TotalAssets)
			cmd.Printf("Total liabilities: %12.2f\n", p.TotalLiabilities)
			cmd.Printf("Monthly income:    %12.2f\n", p.MonthlyIncome)
			cmd.Printf("Monthly expenses:  %12.2f\n", p.MonthlyExpenses)
			cmd.Printf("Monthly savings:   %12.2f\n", p.MonthlySavings)

			if len(p.ExpensesBySubcategory) > 0 {
				cmd.Println("\nExpenses by category:")
				keys := make([]string, 0, len(p.ExpensesBySubcategory))
				for k := range p.ExpensesBySubcategory {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					cmd.Printf("  %-16s %12.2f\n", k, p.ExpensesBySubcategory[k])
				}
			}
			if len(p.RecentTransactions) > 0 {
				cmd.Println("\nRecent transactions:")
				for _, t := range p.RecentTransactions {
					cmd.Printf("  %s  %10.2f  %s\n", t.Date, t.Amount, t.Description)
				}
			}
			return nil
		},
	}
}

func (c *cli) trendCmd() *cobra.Command {
	var months int
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Show monthly spending per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			trend, err := c.svc.SpendingTrend(cmd.Context(), months)
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, trend); ok {
				return err
			}
			if len(trend) == 0 {
				cmd.Println("No spending recorded.")
				return nil
			}
			for _, cat := range profile.Categories(trend) {
				cells := make([]string, len(trend[cat]))
				for i, v := range trend[cat] {
					cells[i] = fmt.Sprintf("%9.2f", v)
				}
				cmd.Printf("  %-16s %s\n", cat, strings.Join(cells, " "))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&months, "months", "m", 6, "number of calendar months, oldest first")
	return cmd
}

func (c *cli) spendingCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "spending",
		Short: "Show spending over the last days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			period, err := c.svc.SpendingByPeriod(cmd.Context(), days)
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, period); ok {
				return err
			}
			cmd.Printf("Last %d days: %.2f spent, %.2f per active day\n",
				period.PeriodDays, period.TotalSpending, period.AverageDailySpending)
			keys := make([]string, 0, len(period.CategoryTotals))
			for k := range period.CategoryTotals {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				cmd.Printf("  %-16s %12.2f\n", k, period.CategoryTotals[k])
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 30, "window length in days")
	return cmd
}

func (c *cli) entriesCmd() *cobra.Command {
	var (
		since      string
		documentID string
	)
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List ledger entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := store.LedgerFilter{SourceDocumentID: documentID}
			if since != "" {
				t, err := time.Parse(domain.DateLayout, since)
				if err != nil {
					return fmt.Errorf("invalid --since %q, want YYYY-MM-DD", since)
				}
				filter.Since = t
			}
			entries, err := c.svc.Entries(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, entries); ok {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("No entries.")
				return nil
			}
			for _, e := range entries {
				cmd.Printf("  %s  %-12s %-14s %12s  %s\n",
					e.Date.Format(domain.DateLayout), e.Category, e.Subcategory, e.Amount.StringFixed(2), e.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only entries on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&documentID, "document", "", "only entries produced by this document")
	return cmd
}

func (c *cli) addEntryCmd() *cobra.Command {
	var (
		subcategory string
		date        string
		description string
	)
	cmd := &cobra.Command{
		Use:   "add-entry [category] [amount]",
		Short: "Record a manual ledger entry",
		Long: `Records a hand-entered ledger entry. Expenses and liabilities are
negative, income, assets and investments are positive.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			m := app.ManualEntry{
				Category:    domain.Category(strings.ToLower(args[0])),
				Subcategory: subcategory,
				Amount:      amount,
				Description: description,
			}
			if date != "" {
				t, err := time.Parse(domain.DateLayout, date)
				if err != nil {
					return fmt.Errorf("invalid --date %q, want YYYY-MM-DD", date)
				}
				m.Date = t
			}
			entry, err := c.svc.AddEntry(cmd.Context(), m)
			if err != nil {
				return err
			}
			if ok, err := c.printJSON(cmd, entry); ok {
				return err
			}
			cmd.Printf("Recorded %s %s %s on %s\n",
				entry.Category, entry.Subcategory, entry.Amount.StringFixed(2), entry.Date.Format(domain.DateLayout))
			return nil
		},
	}
	cmd.Flags().StringVarP(&subcategory, "subcategory", "s", "", "subcategory, e.g. salary or food")
	cmd.Flags().StringVar(&date, "date", "", "entry date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	return cmd
}
