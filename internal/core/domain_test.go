package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validFields() EntryFields {
	return EntryFields{
		Title:    "Groceries",
		Amount:   decimal.RequireFromString("42.50"),
		Date:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Category: "Food",
		Type:     EntryExpense,
	}
}

func TestEntryFieldsValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EntryFields)
		want   error
	}{
		{"valid", func(*EntryFields) {}, nil},
		{"blank title", func(f *EntryFields) { f.Title = "   " }, ErrEmptyTitle},
		{"zero amount", func(f *EntryFields) { f.Amount = decimal.Zero }, ErrInvalidAmount},
		{"negative amount", func(f *EntryFields) { f.Amount = decimal.NewFromInt(-3) }, ErrInvalidAmount},
		{"zero date", func(f *EntryFields) { f.Date = time.Time{} }, ErrInvalidDate},
		{"bad type", func(f *EntryFields) { f.Type = "transfer" }, ErrInvalidType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFields()
			tc.mutate(&f)
			err := f.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
			if !IsValidation(err) {
				t.Errorf("IsValidation(%v) = false, want true", err)
			}
		})
	}
}

func TestNewEntryNormalizesCategory(t *testing.T) {
	f := validFields()
	f.Category = "  "
	f.Title = "  Salary "
	f.Type = EntryIncome

	e, err := NewEntry("u1", f)
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	if e.Category != UncategorizedCategory {
		t.Errorf("Category = %q, want %q", e.Category, UncategorizedCategory)
	}
	if e.Title != "Salary" {
		t.Errorf("Title = %q, want %q", e.Title, "Salary")
	}
	if e.ID != "" {
		t.Errorf("ID = %q, want empty before persistence", e.ID)
	}
	if e.OwnerID != "u1" {
		t.Errorf("OwnerID = %q, want u1", e.OwnerID)
	}
}

func TestEntryReplace(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	e := Entry{ID: "e1", OwnerID: "u1", CreatedAt: created, UpdatedAt: created}
	e = e.Replace(validFields(), created.Add(time.Hour))

	if e.ID != "e1" || e.OwnerID != "u1" || !e.CreatedAt.Equal(created) {
		t.Fatalf("Replace() changed identity fields: %+v", e)
	}
	if !e.UpdatedAt.Equal(created.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v, want %v", e.UpdatedAt, created.Add(time.Hour))
	}
	if e.Title != "Groceries" || e.Category != "Food" {
		t.Errorf("Replace() fields = %+v", e.Fields())
	}
}

func TestParseEntryType(t *testing.T) {
	if got, err := ParseEntryType(" Expense "); err != nil || got != EntryExpense {
		t.Errorf("ParseEntryType(Expense) = %q, %v", got, err)
	}
	if got, err := ParseEntryType("INCOME"); err != nil || got != EntryIncome {
		t.Errorf("ParseEntryType(INCOME) = %q, %v", got, err)
	}
	if _, err := ParseEntryType("gift"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("ParseEntryType(gift) error = %v, want %v", err, ErrInvalidType)
	}
}

func TestBudgetID(t *testing.T) {
	if got := BudgetID("abc", "2024-03"); got != "abc_2024-03" {
		t.Errorf("BudgetID() = %q, want %q", got, "abc_2024-03")
	}
}

func TestPeriodOf(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 23:30 UTC on Mar 31 is already April in Rome.
	ts := time.Date(2024, 3, 31, 23, 30, 0, 0, time.UTC)
	if got := PeriodOf(ts, time.UTC); got != "2024-03" {
		t.Errorf("PeriodOf(UTC) = %q, want 2024-03", got)
	}
	if got := PeriodOf(ts, rome); got != "2024-04" {
		t.Errorf("PeriodOf(Rome) = %q, want 2024-04", got)
	}
	if got := PeriodOf(ts, nil); got != "2024-03" {
		t.Errorf("PeriodOf(nil) = %q, want 2024-03", got)
	}
}

func TestParsePeriodKey(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2024-03", true},
		{" 2024-12 ", true},
		{"2024-13", false},
		{"2024-3", false},
		{"March", false},
		{"", false},
	}
	for _, tc := range tests {
		_, err := ParsePeriodKey(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParsePeriodKey(%q) error = %v", tc.in, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidPeriod) {
			t.Errorf("ParsePeriodKey(%q) error = %v, want %v", tc.in, err, ErrInvalidPeriod)
		}
	}
}

func TestPeriodBounds(t *testing.T) {
	start, end := PeriodKey("2024-02").Bounds(time.UTC)
	if !start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v", end)
	}
	if !PeriodKey("2024-02").Contains(time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), time.UTC) {
		t.Error("Contains(Feb 29) = false, want true")
	}
}

func TestPersistenceWrapping(t *testing.T) {
	base := errors.New("disk full")
	err := Persistence("add entry", base)
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, base) {
		t.Fatalf("Persistence() = %v, want both ErrPersistence and cause", err)
	}
	if err := Persistence("get entry", ErrNotFound); errors.Is(err, ErrPersistence) {
		t.Errorf("not found must not be reported as persistence failure: %v", err)
	}
	if Persistence("noop", nil) != nil {
		t.Error("Persistence(nil) != nil")
	}
}
