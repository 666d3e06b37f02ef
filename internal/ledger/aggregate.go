// Package ledger derives totals, breakdowns and budget usage from entry lists.
//
// Every function here is pure: identical input yields identical output, no
// matter how often or in which order it is called. The consistency layer
// relies on that to recompute on every mutation.
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"smartspend/internal/core"
)

const (
	// DefaultWindowDays is the length of the trailing daily breakdown.
	DefaultWindowDays = 7
	// NoData labels the top category when there are no expenses.
	NoData = "No data"

	dayLabelLayout = "Jan 02"
)

var hundred = decimal.NewFromInt(100)

type (
	Totals struct {
		Income  decimal.Decimal
		Expense decimal.Decimal
	}

	CategoryShare struct {
		Category string
		Total    decimal.Decimal
		// Percent of total expense, truncated to two decimals.
		Percent decimal.Decimal
	}

	DayTotal struct {
		Label string
		Date  time.Time
		Total decimal.Decimal
	}

	Stats struct {
		TotalSpent   decimal.Decimal
		AverageDaily decimal.Decimal
		TopCategory  string
	}
)

// TotalsByType sums amounts per entry type. Empty input yields zeroes.
func TotalsByType(entries []core.Entry) Totals {
	t := Totals{Income: decimal.Zero, Expense: decimal.Zero}
	for _, e := range entries {
		switch e.Type {
		case core.EntryIncome:
			t.Income = t.Income.Add(e.Amount)
		case core.EntryExpense:
			t.Expense = t.Expense.Add(e.Amount)
		}
	}
	return t
}

// Net is income minus expense.
func (t Totals) Net() decimal.Decimal {
	return t.Income.Sub(t.Expense)
}

func NetBalance(entries []core.Entry) decimal.Decimal {
	return TotalsByType(entries).Net()
}

// CategoryBreakdown groups expenses by category, largest first.
// Income never contributes to the shares or to the denominator.
func CategoryBreakdown(entries []core.Entry) []CategoryShare {
	totals := make(map[string]decimal.Decimal)
	grand := decimal.Zero
	for _, e := range entries {
		if !e.IsExpense() {
			continue
		}
		cat := core.NormalizeCategory(e.Category)
		totals[cat] = totals[cat].Add(e.Amount)
		grand = grand.Add(e.Amount)
	}

	shares := make([]CategoryShare, 0, len(totals))
	for cat, total := range totals {
		pct := decimal.Zero
		if grand.IsPositive() {
			pct = total.Mul(hundred).Div(grand).Truncate(2)
		}
		shares = append(shares, CategoryShare{Category: cat, Total: total, Percent: pct})
	}
	sort.Slice(shares, func(i, j int) bool {
		if c := shares[i].Total.Cmp(shares[j].Total); c != 0 {
			return c > 0
		}
		return shares[i].Category < shares[j].Category
	})
	return shares
}

// DailyBreakdown returns expense totals for the windowDays calendar days ending
// at ref (inclusive), oldest first. Days without expenses are present with a
// zero total. Days are evaluated in ref's location; entries outside the window
// are ignored.
func DailyBreakdown(entries []core.Entry, ref time.Time, windowDays int) []DayTotal {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	loc := ref.Location()
	y, m, d := ref.Date()
	last := time.Date(y, m, d, 0, 0, 0, 0, loc)

	days := make([]DayTotal, windowDays)
	index := make(map[string]int, windowDays)
	for i := range days {
		day := last.AddDate(0, 0, i-windowDays+1)
		days[i] = DayTotal{Label: day.Format(dayLabelLayout), Date: day, Total: decimal.Zero}
		index[dayKey(day)] = i
	}

	for _, e := range entries {
		if !e.IsExpense() {
			continue
		}
		i, ok := index[dayKey(e.Date.In(loc))]
		if !ok {
			continue
		}
		days[i].Total = days[i].Total.Add(e.Amount)
	}
	return days
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// AverageDaily divides total expense by the number of calendar days between
// the oldest and newest entry, both included. Empty input yields zero.
func AverageDaily(entries []core.Entry) decimal.Decimal {
	if len(entries) == 0 {
		return decimal.Zero
	}
	minDate, maxDate := entries[0].Date, entries[0].Date
	for _, e := range entries[1:] {
		if e.Date.Before(minDate) {
			minDate = e.Date
		}
		if e.Date.After(maxDate) {
			maxDate = e.Date
		}
	}
	span := int64(maxDate.Sub(minDate)/(24*time.Hour)) + 1
	return TotalsByType(entries).Expense.Div(decimal.NewFromInt(span)).Round(2)
}

// Statistics summarizes spending for display.
func Statistics(entries []core.Entry) Stats {
	s := Stats{
		TotalSpent:   TotalsByType(entries).Expense,
		AverageDaily: AverageDaily(entries),
		TopCategory:  NoData,
	}
	if shares := CategoryBreakdown(entries); len(shares) > 0 {
		s.TopCategory = shares[0].Category
	}
	return s
}

// InPeriod keeps the entries dated inside period, evaluated in loc.
func InPeriod(entries []core.Entry, period core.PeriodKey, loc *time.Location) []core.Entry {
	out := make([]core.Entry, 0, len(entries))
	for _, e := range entries {
		if period.Contains(e.Date, loc) {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns the n most recent entries, newest first. The input is not modified.
func Recent(entries []core.Entry, n int) []core.Entry {
	sorted := make([]core.Entry, len(entries))
	copy(sorted, entries)
	SortByDateDesc(sorted)
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// SortByDateDesc orders entries newest first, breaking ties by creation time and id.
func SortByDateDesc(entries []core.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
