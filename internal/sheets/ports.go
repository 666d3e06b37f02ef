// Package sheets mirrors ledger periods to spreadsheets.
package sheets

import (
	"context"
	"strings"

	"smartspend/internal/core"
	"smartspend/internal/ledger"
)

// PeriodExporter replaces the mirror of one owner's period with entries.
// It returns a reference to the written range.
type PeriodExporter interface {
	ExportPeriod(ctx context.Context, owner string, period core.PeriodKey, entries []core.Entry) (string, error)
}

// Header is the first row of every exported tab.
var Header = []string{"Date", "Title", "Category", "Type", "Amount"}

// TabName is the tab holding owner's period, e.g. "u1 2024-03".
func TabName(owner string, period core.PeriodKey) string {
	return strings.TrimSpace(owner) + " " + string(period)
}

// Rows renders entries newest first under Header. Amounts are plain decimals
// so the spreadsheet can sum them.
func Rows(entries []core.Entry) [][]string {
	sorted := ledger.Recent(entries, -1)
	rows := make([][]string, 0, len(sorted)+1)
	rows = append(rows, append([]string(nil), Header...))
	for _, e := range sorted {
		rows = append(rows, []string{
			e.Date.Format("2006-01-02"),
			e.Title,
			core.NormalizeCategory(e.Category),
			string(e.Type),
			e.Amount.StringFixed(2),
		})
	}
	return rows
}
