// Package storagetest holds the contract every storage.Store must satisfy.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"smartspend/internal/core"
	"smartspend/internal/storage"
)

// StoreSuite runs the shared contract against a fresh store per test.
type StoreSuite struct {
	suite.Suite
	NewStore func() storage.Store
	store    storage.Store
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore()
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func (s *StoreSuite) newEntry(owner, title, amount string, typ core.EntryType, date time.Time) core.Entry {
	e, err := core.NewEntry(owner, core.EntryFields{
		Title: title, Amount: dec(amount), Date: date, Category: "Food", Type: typ,
	})
	require.NoError(s.T(), err)
	return e
}

func (s *StoreSuite) TestAddThenListRoundTrip() {
	date := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	in := s.newEntry("u1", "Lunch", "12.50", core.EntryExpense, date)

	id, err := s.store.AddEntry(s.ctx, in)
	s.Require().NoError(err)
	s.NotEmpty(id)

	list, err := s.store.ListEntries(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(list, 1)

	got := list[0]
	s.Equal(id, got.ID)
	s.Equal(in.Title, got.Title)
	s.True(in.Amount.Equal(got.Amount), "amount %s != %s", in.Amount, got.Amount)
	s.True(in.Date.Equal(got.Date), "date %s != %s", in.Date, got.Date)
	s.Equal(in.Category, got.Category)
	s.Equal(in.Type, got.Type)
	s.Equal("u1", got.OwnerID)
	s.False(got.CreatedAt.IsZero())
}

func (s *StoreSuite) TestListSortedDescendingAndScoped() {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, day := range []int{3, 1, 7, 5} {
		_, err := s.store.AddEntry(s.ctx, s.newEntry("u1", "e", "1", core.EntryExpense, base.AddDate(0, 0, day)))
		s.Require().NoError(err, "entry %d", i)
	}
	_, err := s.store.AddEntry(s.ctx, s.newEntry("other", "x", "1", core.EntryExpense, base))
	s.Require().NoError(err)

	list, err := s.store.ListEntries(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(list, 4)
	for i := 1; i < len(list); i++ {
		s.False(list[i].Date.After(list[i-1].Date), "entries not sorted descending at %d", i)
	}

	empty, err := s.store.ListEntries(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *StoreSuite) TestUpdateReplacesFields() {
	in := s.newEntry("u1", "Taxi", "20", core.EntryExpense, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	id, err := s.store.AddEntry(s.ctx, in)
	s.Require().NoError(err)
	stored, err := s.store.GetEntry(s.ctx, "u1", id)
	s.Require().NoError(err)

	newDate := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	before, got, err := s.store.UpdateEntry(s.ctx, "u1", id, core.EntryFields{
		Title: "Bonus", Amount: dec("99.99"), Date: newDate, Category: "", Type: core.EntryIncome,
	})
	s.Require().NoError(err)
	s.Equal("Taxi", before.Title)
	s.True(before.Date.Equal(stored.Date))
	s.True(before.Amount.Equal(dec("20")))
	s.Equal("Bonus", got.Title)
	s.True(got.Amount.Equal(dec("99.99")))
	s.True(got.Date.Equal(newDate))
	s.Equal(core.UncategorizedCategory, got.Category)
	s.Equal(core.EntryIncome, got.Type)
	s.True(got.CreatedAt.Equal(before.CreatedAt))
	s.False(got.UpdatedAt.Before(before.UpdatedAt))
}

func (s *StoreSuite) TestMissingEntriesAreNotFound() {
	_, err := s.store.GetEntry(s.ctx, "u1", "missing")
	s.True(errors.Is(err, core.ErrNotFound), "get: %v", err)

	_, _, err = s.store.UpdateEntry(s.ctx, "u1", "missing", core.EntryFields{Title: "x", Amount: dec("1"), Date: time.Now(), Type: core.EntryExpense})
	s.True(errors.Is(err, core.ErrNotFound), "update: %v", err)

	_, err = s.store.DeleteEntry(s.ctx, "u1", "missing")
	s.True(errors.Is(err, core.ErrNotFound), "delete: %v", err)
}

func (s *StoreSuite) TestOwnersCannotTouchEachOthersEntries() {
	id, err := s.store.AddEntry(s.ctx, s.newEntry("u1", "Rent", "500", core.EntryExpense, time.Now()))
	s.Require().NoError(err)

	_, err = s.store.DeleteEntry(s.ctx, "intruder", id)
	s.True(errors.Is(err, core.ErrNotFound))
	_, err = s.store.GetEntry(s.ctx, "u1", id)
	s.NoError(err)
}

func (s *StoreSuite) TestDeleteIsPermanent() {
	id, err := s.store.AddEntry(s.ctx, s.newEntry("u1", "Rent", "500", core.EntryExpense, time.Now()))
	s.Require().NoError(err)
	removed, err := s.store.DeleteEntry(s.ctx, "u1", id)
	s.Require().NoError(err)
	s.Equal(id, removed.ID)
	s.Equal("Rent", removed.Title)
	s.True(removed.Amount.Equal(dec("500")))

	_, err = s.store.DeleteEntry(s.ctx, "u1", id)
	s.True(errors.Is(err, core.ErrNotFound))
	list, err := s.store.ListEntries(s.ctx, "u1")
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *StoreSuite) TestBudgetLifecycle() {
	b, err := s.store.GetBudget(s.ctx, "u1", "2024-03")
	s.Require().NoError(err)
	s.Nil(b, "unset budget must be nil, not an error")

	// Updating spending without a budget is a silent no-op.
	s.Require().NoError(s.store.UpdateSpending(s.ctx, "u1", "2024-03", dec("10")))
	b, err = s.store.GetBudget(s.ctx, "u1", "2024-03")
	s.Require().NoError(err)
	s.Nil(b)

	set, err := s.store.SetBudget(s.ctx, "u1", "2024-03", dec("120"), dec("150"))
	s.Require().NoError(err)
	s.Equal("u1_2024-03", set.ID)

	s.Require().NoError(s.store.UpdateSpending(s.ctx, "u1", "2024-03", dec("100")))
	b, err = s.store.GetBudget(s.ctx, "u1", "2024-03")
	s.Require().NoError(err)
	s.Require().NotNil(b)
	s.Equal(core.PeriodKey("2024-03"), b.Period)
	s.True(b.MonthlyBudget.Equal(dec("120")))
	s.True(b.CurrentSpending.Equal(dec("100")))

	// Overwrite keeps a single record per period.
	_, err = s.store.SetBudget(s.ctx, "u1", "2024-03", dec("300"), dec("100"))
	s.Require().NoError(err)
	b, err = s.store.GetBudget(s.ctx, "u1", "2024-03")
	s.Require().NoError(err)
	s.True(b.MonthlyBudget.Equal(dec("300")))

	other, err := s.store.GetBudget(s.ctx, "u1", "2024-04")
	s.Require().NoError(err)
	s.Nil(other)
}

func (s *StoreSuite) TestChatMessagesAscending() {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, m := range []core.ChatMessage{
		{OwnerID: "u1", Text: "third", Timestamp: base.Add(2 * time.Minute)},
		{OwnerID: "u1", Text: "first", FromUser: true, Timestamp: base},
		{OwnerID: "u2", Text: "elsewhere", Timestamp: base},
		{OwnerID: "u1", Text: "second", Timestamp: base.Add(time.Minute)},
	} {
		_, err := s.store.AppendMessage(s.ctx, m)
		s.Require().NoError(err)
	}

	msgs, err := s.store.ListMessages(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(msgs, 3)
	s.Equal([]string{"first", "second", "third"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
	s.True(msgs[0].FromUser)
	s.False(msgs[1].FromUser)
	s.NotEmpty(msgs[0].ID)
}

func (s *StoreSuite) TestAdviceState() {
	got, err := s.store.AdviceExceeded(s.ctx, "u1", "2024-03")
	s.Require().NoError(err)
	s.False(got)

	s.Require().NoError(s.store.SetAdviceExceeded(s.ctx, "u1", "2024-03", true))
	got, err = s.store.AdviceExceeded(s.ctx, "u1", "2024-03")
	s.Require().NoError(err)
	s.True(got)

	other, err := s.store.AdviceExceeded(s.ctx, "u1", "2024-04")
	s.Require().NoError(err)
	s.False(other)

	s.Require().NoError(s.store.SetAdviceExceeded(s.ctx, "u1", "2024-03", false))
	got, err = s.store.AdviceExceeded(s.ctx, "u1", "2024-03")
	s.Require().NoError(err)
	s.False(got)
}

func (s *StoreSuite) TestConcurrentAdds() {
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.AddEntry(s.ctx, s.newEntry("u1", "c", "1", core.EntryExpense, time.Now()))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}
	list, err := s.store.ListEntries(s.ctx, "u1")
	s.Require().NoError(err)
	s.Len(list, n)
}
