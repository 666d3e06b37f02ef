package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"smartspend/internal/core"
)

// Level classifies how close spending is to the budget.
type Level string

const (
	LevelOK      Level = "ok"
	LevelWarning Level = "warning"
	LevelOver    Level = "over"
)

var warningThreshold = decimal.NewFromInt(75)

// Usage describes spending against a monthly budget.
type Usage struct {
	// PercentUsed is capped at 100 for display. Exceeded carries the overrun.
	PercentUsed int
	Remaining   decimal.Decimal
	Exceeded    bool
	Level       Level
}

// BudgetUsage compares total expense with the monthly budget.
// A non-positive budget reports 0 percent used.
func BudgetUsage(totalExpense, monthlyBudget decimal.Decimal) Usage {
	u := Usage{
		Remaining: monthlyBudget.Sub(totalExpense),
		Exceeded:  totalExpense.GreaterThan(monthlyBudget),
		Level:     LevelOK,
	}
	if !monthlyBudget.IsPositive() {
		return u
	}
	raw := totalExpense.Mul(hundred).Div(monthlyBudget)
	pct := raw.Round(0).IntPart()
	if pct > 100 {
		pct = 100
	}
	u.PercentUsed = int(pct)
	switch {
	case raw.GreaterThanOrEqual(hundred):
		u.Level = LevelOver
	case raw.GreaterThan(warningThreshold):
		u.Level = LevelWarning
	}
	return u
}

// Report bundles every figure the analytics view shows for one period.
type Report struct {
	Period     core.PeriodKey
	Totals     Totals
	Net        decimal.Decimal
	Categories []CategoryShare
	Daily      []DayTotal
	Stats      Stats
	// Budget and Usage are nil when no budget is set for the period.
	Budget *core.Budget
	Usage  *Usage
}

// Analyze builds the report for period from the owner's full entry list.
// Only entries inside period are aggregated; the daily window ends at ref.
func Analyze(entries []core.Entry, budget *core.Budget, period core.PeriodKey, ref time.Time, windowDays int, loc *time.Location) Report {
	if loc == nil {
		loc = time.UTC
	}
	inPeriod := InPeriod(entries, period, loc)
	totals := TotalsByType(inPeriod)
	r := Report{
		Period:     period,
		Totals:     totals,
		Net:        totals.Net(),
		Categories: CategoryBreakdown(inPeriod),
		Daily:      DailyBreakdown(entries, ref.In(loc), windowDays),
		Stats:      Statistics(inPeriod),
	}
	if budget != nil {
		b := *budget
		u := BudgetUsage(totals.Expense, b.MonthlyBudget)
		r.Budget = &b
		r.Usage = &u
	}
	return r
}
