package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/leadbilling-system/internal/model"
)

func int64Ptr(v int64) *int64 { return &v }

func ratePtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestComputeFees(t *testing.T) {
	tests := []struct {
		name        string
		plan        model.FeePlan
		act         Activity
		wantAmounts []int64
		wantTotal   int64
	}{
		{
			name: "combined plan with activity",
			plan: model.FeePlan{
				MonthlyFee:     int64Ptr(30000),
				PerOrderFee:    int64Ptr(5000),
				ProjectFeeRate: ratePtr("0.05"),
			},
			act: Activity{
				OrderCount:         4,
				ProjectCount:       2,
				ProjectTotalAmount: 2000000,
			},
			wantAmounts: []int64{30000, 20000, 100000},
			wantTotal:   150000,
		},
		{
			name: "monthly fee regardless of activity",
			plan: model.FeePlan{
				MonthlyFee: int64Ptr(30000),
			},
			act:         Activity{},
			wantAmounts: []int64{30000},
			wantTotal:   30000,
		},
		{
			name: "per-order line omitted without orders",
			plan: model.FeePlan{
				PerOrderFee: int64Ptr(5000),
			},
			act:         Activity{OrderCount: 0},
			wantAmounts: nil,
			wantTotal:   0,
		},
		{
			name: "per-project fixed fee",
			plan: model.FeePlan{
				PerProjectFee: int64Ptr(10000),
			},
			act:         Activity{ProjectCount: 3},
			wantAmounts: []int64{30000},
			wantTotal:   30000,
		},
		{
			name: "rate fee floors to whole yen",
			plan: model.FeePlan{
				ProjectFeeRate: ratePtr("0.03"),
			},
			act: Activity{
				ProjectCount:       1,
				ProjectTotalAmount: 333333, // 9999.99 -> 9999
			},
			wantAmounts: []int64{9999},
			wantTotal:   9999,
		},
		{
			name: "rate line omitted without projects",
			plan: model.FeePlan{
				ProjectFeeRate: ratePtr("0.05"),
			},
			act:         Activity{ProjectTotalAmount: 1000000},
			wantAmounts: nil,
			wantTotal:   0,
		},
		{
			name:        "empty plan yields nothing",
			plan:        model.FeePlan{},
			act:         Activity{OrderCount: 10, ProjectCount: 5, ProjectTotalAmount: 100000},
			wantAmounts: nil,
			wantTotal:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total := ComputeFees(tt.plan, tt.act)

			require.Len(t, items, len(tt.wantAmounts))
			for i, want := range tt.wantAmounts {
				assert.Equal(t, want, items[i].Amount)
				assert.NotEmpty(t, items[i].Description)
			}
			assert.Equal(t, tt.wantTotal, total)
			assert.Equal(t, tt.wantTotal, SumItems(items))
		})
	}
}

func TestComputeFees_RateDescriptionContainsPercent(t *testing.T) {
	plan := model.FeePlan{ProjectFeeRate: ratePtr("0.05")}
	items, _ := ComputeFees(plan, Activity{ProjectCount: 2, ProjectTotalAmount: 2000000})

	require.Len(t, items, 1)
	assert.Contains(t, items[0].Description, "5.0%")
	assert.Contains(t, items[0].Description, "2 projects")
}

func TestCalculateTax(t *testing.T) {
	rate := decimal.RequireFromString("0.10")

	assert.Equal(t, int64(15000), CalculateTax(150000, rate))
	assert.Equal(t, int64(0), CalculateTax(0, rate))
	// 999 * 0.10 = 99.9 -> 99
	assert.Equal(t, int64(99), CalculateTax(999, rate))
}

func TestDueDate(t *testing.T) {
	issue := time.Date(2025, time.January, 15, 10, 30, 0, 0, time.UTC)

	due := DueDate(issue, 20)
	assert.Equal(t, time.Date(2025, time.February, 20, 0, 0, 0, 0, time.UTC), due)

	// Декабрь переходит в январь следующего года.
	issue = time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC)
	due = DueDate(issue, 20)
	assert.Equal(t, time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC), due)
}

func TestMonthWindow(t *testing.T) {
	start, end := MonthWindow(2025, time.January)

	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, time.January, 31, 23, 59, 59, 0, time.UTC), end)

	start, end = MonthWindow(2024, time.February)
	assert.Equal(t, 29, end.Day())
	assert.Equal(t, time.February, start.Month())
}
