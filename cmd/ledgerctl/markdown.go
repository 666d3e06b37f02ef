package main

import (
	"fmt"
	"strings"

	"smartspend/internal/core"
	"smartspend/internal/ledger"
)

// reportMarkdown lays out a report as a markdown document.
func reportMarkdown(r ledger.Report, currency string) string {
	income := core.FormatAmount(r.Totals.Income, currency)
	expense := core.FormatAmount(r.Totals.Expense, currency)

	var b strings.Builder
	fmt.Fprintf(&b, "# Ledger %s\n\n", r.Period)
	fmt.Fprintf(&b, "| Income | Expense | Net |\n|---:|---:|---:|\n| %s | %s | %s |\n\n",
		income, expense, core.FormatAmount(r.Net, currency))

	if r.Budget != nil && r.Usage != nil {
		b.WriteString("## Budget\n\n")
		fmt.Fprintf(&b, "Spent %s of %s (%d%%, %s).",
			expense, core.FormatAmount(r.Budget.MonthlyBudget, currency), r.Usage.PercentUsed, r.Usage.Level)
		if r.Usage.Exceeded {
			fmt.Fprintf(&b, " Over by %s.", core.FormatAmount(r.Usage.Remaining.Neg(), currency))
		} else {
			fmt.Fprintf(&b, " %s left.", core.FormatAmount(r.Usage.Remaining, currency))
		}
		b.WriteString("\n\n")
	}

	b.WriteString("## Categories\n\n")
	if len(r.Categories) == 0 {
		b.WriteString("No expenses.\n\n")
	} else {
		b.WriteString("| Category | Total | Share |\n|---|---:|---:|\n")
		for _, c := range r.Categories {
			fmt.Fprintf(&b, "| %s | %s | %s%% |\n", c.Category, core.FormatAmount(c.Total, currency), c.Percent.StringFixed(2))
		}
		b.WriteString("\n")
	}

	if len(r.Daily) > 0 {
		b.WriteString("## Daily spending\n\n| Day | Spent |\n|---|---:|\n")
		for _, d := range r.Daily {
			fmt.Fprintf(&b, "| %s | %s |\n", d.Label, core.FormatAmount(d.Total, currency))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Average per day: %s. Top category: %s.\n",
		core.FormatAmount(r.Stats.AverageDaily, currency), r.Stats.TopCategory)
	return b.String()
}
