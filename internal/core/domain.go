package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntryExpense EntryType = "expense"
	EntryIncome  EntryType = "income"
)

// UncategorizedCategory replaces an empty category on every entry.
const UncategorizedCategory = "Uncategorized"

type (
	EntryType string

	// Entry is a single income or expense record owned by one user.
	Entry struct {
		ID        string
		OwnerID   string
		Title     string
		Amount    decimal.Decimal
		Date      time.Time
		Category  string
		Type      EntryType
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// EntryFields holds the mutable part of an Entry. An update replaces all of them.
	EntryFields struct {
		Title    string
		Amount   decimal.Decimal
		Date     time.Time
		Category string
		Type     EntryType
	}

	// Budget is the per-owner, per-month target. CurrentSpending is a cache
	// rebuilt from the entries of the period, never adjusted by deltas.
	Budget struct {
		ID              string
		OwnerID         string
		Period          PeriodKey
		MonthlyBudget   decimal.Decimal
		CurrentSpending decimal.Decimal
		UpdatedAt       time.Time
	}

	ChatMessage struct {
		ID        string
		OwnerID   string
		Text      string
		FromUser  bool
		Timestamp time.Time
	}
)

func (t EntryType) Valid() bool {
	return t == EntryExpense || t == EntryIncome
}

// ParseEntryType accepts "expense" or "income" in any case.
func ParseEntryType(s string) (EntryType, error) {
	t := EntryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Err: ErrInvalidType}
	}
	return t, nil
}

// NormalizeCategory trims the category and maps blank values to UncategorizedCategory.
func NormalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return UncategorizedCategory
	}
	return category
}

// Normalize trims text fields and fills in the default category.
func (f EntryFields) Normalize() EntryFields {
	f.Title = strings.TrimSpace(f.Title)
	f.Category = NormalizeCategory(f.Category)
	return f
}

func (f EntryFields) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return &ValidationError{Field: "title", Err: ErrEmptyTitle}
	}
	if !f.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	if f.Date.IsZero() {
		return &ValidationError{Field: "date", Err: ErrInvalidDate}
	}
	if !f.Type.Valid() {
		return &ValidationError{Field: "type", Err: ErrInvalidType}
	}
	return nil
}

// NewEntry builds an unsaved entry for owner. ID and timestamps are left to the store.
func NewEntry(owner string, f EntryFields) (Entry, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return Entry{}, err
	}
	return Entry{
		OwnerID:  owner,
		Title:    f.Title,
		Amount:   f.Amount,
		Date:     f.Date,
		Category: f.Category,
		Type:     f.Type,
	}, nil
}

func (e Entry) Fields() EntryFields {
	return EntryFields{
		Title:    e.Title,
		Amount:   e.Amount,
		Date:     e.Date,
		Category: e.Category,
		Type:     e.Type,
	}
}

// Replace returns a copy of e carrying f and a fresh modification time.
func (e Entry) Replace(f EntryFields, now time.Time) Entry {
	f = f.Normalize()
	e.Title = f.Title
	e.Amount = f.Amount
	e.Date = f.Date
	e.Category = f.Category
	e.Type = f.Type
	e.UpdatedAt = now
	return e
}

func (e Entry) IsExpense() bool { return e.Type == EntryExpense }

// BudgetID is the composite document key of a budget.
func BudgetID(owner string, period PeriodKey) string {
	return owner + "_" + string(period)
}

// ValidateBudgetAmount rejects zero and negative monthly budgets.
func ValidateBudgetAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "monthly_budget", Err: ErrInvalidBudget}
	}
	return nil
}
