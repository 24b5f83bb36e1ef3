package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/finance-agent/internal/domain"
)

func TestInsights(t *testing.T) {
	tests := []struct {
		name     string
		analysis *domain.StructuredAnalysis
		want     []string
	}{
		{
			name:     "empty analysis",
			analysis: &domain.StructuredAnalysis{},
			want:     []string{DefaultInsight},
		},
		{
			name: "statement with large movements",
			analysis: &domain.StructuredAnalysis{
				Transactions: []domain.Transaction{
					{Description: "Rent", Amount: -1200},
					{Description: "Coffee", Amount: -4.5},
					{Description: "TV", Amount: -300},
					{Description: "Salary", Amount: 2500},
				},
				Summary:     domain.Summary{NetChange: 995.5},
				KeyInsights: []string{"Rent is the largest outflow"},
			},
			want: []string{
				"Net increase of $995.50",
				"Processed 4 transactions",
				"Largest expense: $1200.00 - Rent",
				"Largest income: $2500.00 - Salary",
				"Rent is the largest outflow",
			},
		},
		{
			name: "investments only",
			analysis: &domain.StructuredAnalysis{
				Investments: []domain.Investment{{Symbol: "VTI", Value: 1000.25}, {Symbol: "BND", Value: 500}},
			},
			want: []string{"Total investment value: $1500.25"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Insights(tt.analysis))
		})
	}
}
