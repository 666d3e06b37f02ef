package http

import (
	"time"

	"smartspend/internal/core"
	"smartspend/internal/events"
	"smartspend/internal/ledger"
)

// Wire representations. Amounts travel as fixed two-decimal strings.

type entryDTO struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Amount    string    `json:"amount"`
	Date      string    `json:"date"`
	Category  string    `json:"category"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type usageDTO struct {
	PercentUsed int    `json:"percent_used"`
	Remaining   string `json:"remaining"`
	Exceeded    bool   `json:"exceeded"`
	Level       string `json:"level"`
}

type budgetDTO struct {
	ID              string    `json:"id"`
	Period          string    `json:"period"`
	MonthlyBudget   string    `json:"monthly_budget"`
	CurrentSpending string    `json:"current_spending"`
	UpdatedAt       time.Time `json:"updated_at"`
	Usage           usageDTO  `json:"usage"`
}

type categoryDTO struct {
	Category string `json:"category"`
	Total    string `json:"total"`
	Percent  string `json:"percent"`
}

type dayDTO struct {
	Label string `json:"label"`
	Date  string `json:"date"`
	Total string `json:"total"`
}

type reportDTO struct {
	Period       string        `json:"period"`
	TotalIncome  string        `json:"total_income"`
	TotalExpense string        `json:"total_expense"`
	Net          string        `json:"net"`
	Categories   []categoryDTO `json:"categories"`
	Daily        []dayDTO      `json:"daily"`
	AverageDaily string        `json:"average_daily"`
	TopCategory  string        `json:"top_category"`
	Budget       *budgetDTO    `json:"budget"`
}

type chatDTO struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	FromUser  bool      `json:"from_user"`
	Timestamp time.Time `json:"timestamp"`
}

type snapshotDTO struct {
	Seq     uint64     `json:"seq"`
	At      time.Time  `json:"at"`
	Period  string     `json:"period"`
	Entries []entryDTO `json:"entries"`
	Budget  *budgetDTO `json:"budget"`
}

func toEntryDTO(e core.Entry, loc *time.Location) entryDTO {
	return entryDTO{
		ID:        e.ID,
		Title:     e.Title,
		Amount:    e.Amount.StringFixed(2),
		Date:      e.Date.In(loc).Format(dateLayout),
		Category:  core.NormalizeCategory(e.Category),
		Type:      string(e.Type),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toEntryDTOs(entries []core.Entry, loc *time.Location) []entryDTO {
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e, loc))
	}
	return out
}

func toBudgetDTO(b *core.Budget) *budgetDTO {
	if b == nil {
		return nil
	}
	return &budgetDTO{
		ID:              b.ID,
		Period:          string(b.Period),
		MonthlyBudget:   b.MonthlyBudget.StringFixed(2),
		CurrentSpending: b.CurrentSpending.StringFixed(2),
		UpdatedAt:       b.UpdatedAt,
		Usage:           toUsageDTO(ledger.BudgetUsage(b.CurrentSpending, b.MonthlyBudget)),
	}
}

func toUsageDTO(u ledger.Usage) usageDTO {
	return usageDTO{
		PercentUsed: u.PercentUsed,
		Remaining:   u.Remaining.StringFixed(2),
		Exceeded:    u.Exceeded,
		Level:       string(u.Level),
	}
}

func toReportDTO(r ledger.Report) reportDTO {
	out := reportDTO{
		Period:       string(r.Period),
		TotalIncome:  r.Totals.Income.StringFixed(2),
		TotalExpense: r.Totals.Expense.StringFixed(2),
		Net:          r.Net.StringFixed(2),
		Categories:   make([]categoryDTO, 0, len(r.Categories)),
		Daily:        make([]dayDTO, 0, len(r.Daily)),
		AverageDaily: r.Stats.AverageDaily.StringFixed(2),
		TopCategory:  r.Stats.TopCategory,
		Budget:       toBudgetDTO(r.Budget),
	}
	for _, c := range r.Categories {
		out.Categories = append(out.Categories, categoryDTO{
			Category: c.Category,
			Total:    c.Total.StringFixed(2),
			Percent:  c.Percent.StringFixed(2),
		})
	}
	for _, d := range r.Daily {
		out.Daily = append(out.Daily, dayDTO{Label: d.Label, Date: d.Date.Format(dateLayout), Total: d.Total.StringFixed(2)})
	}
	// The report's usage is computed from the aggregated expenses.
	if out.Budget != nil && r.Usage != nil {
		out.Budget.Usage = toUsageDTO(*r.Usage)
	}
	return out
}

func toChatDTOs(msgs []core.ChatMessage) []chatDTO {
	out := make([]chatDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toChatDTO(m))
	}
	return out
}

func toChatDTO(m core.ChatMessage) chatDTO {
	return chatDTO{ID: m.ID, Text: m.Text, FromUser: m.FromUser, Timestamp: m.Timestamp}
}

func toSnapshotDTO(s events.Snapshot, loc *time.Location) snapshotDTO {
	return snapshotDTO{
		Seq:     s.Seq(),
		At:      s.At(),
		Period:  string(s.Period()),
		Entries: toEntryDTOs(s.Entries(), loc),
		Budget:  toBudgetDTO(s.Budget()),
	}
}
