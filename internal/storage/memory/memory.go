// Package memory is an in-process Store used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"smartspend/internal/core"
	"smartspend/internal/ledger"
	"smartspend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	entries  map[string]core.Entry
	budgets  map[string]core.Budget
	messages []core.ChatMessage
	advice   map[string]bool
}

type Option func(*Store)

// WithClock replaces time.Now for creation and modification stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		entries: make(map[string]core.Entry),
		budgets: make(map[string]core.Budget),
		advice:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ListEntries(ctx context.Context, owner string) ([]core.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Entry, 0)
	for _, e := range s.entries {
		if e.OwnerID == owner {
			out = append(out, e)
		}
	}
	ledger.SortByDateDesc(out)
	return out, nil
}

func (s *Store) GetEntry(ctx context.Context, owner, id string) (core.Entry, error) {
	if err := ctx.Err(); err != nil {
		return core.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.OwnerID != owner {
		return core.Entry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	return e, nil
}

func (s *Store) AddEntry(ctx context.Context, e core.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e.ID = uuid.NewString()
	e.CreatedAt = now
	e.UpdatedAt = now
	s.entries[e.ID] = e
	return e.ID, nil
}

func (s *Store) UpdateEntry(ctx context.Context, owner, id string, f core.EntryFields) (core.Entry, core.Entry, error) {
	if err := ctx.Err(); err != nil {
		return core.Entry{}, core.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.entries[id]
	if !ok || before.OwnerID != owner {
		return core.Entry{}, core.Entry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	after := before.Replace(f, s.now())
	s.entries[id] = after
	return before, after, nil
}

func (s *Store) DeleteEntry(ctx context.Context, owner, id string) (core.Entry, error) {
	if err := ctx.Err(); err != nil {
		return core.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.OwnerID != owner {
		return core.Entry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	delete(s.entries, id)
	return e, nil
}

func (s *Store) GetBudget(ctx context.Context, owner string, period core.PeriodKey) (*core.Budget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[core.BudgetID(owner, period)]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *Store) SetBudget(ctx context.Context, owner string, period core.PeriodKey, monthly, spending decimal.Decimal) (core.Budget, error) {
	if err := ctx.Err(); err != nil {
		return core.Budget{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := core.Budget{
		ID:              core.BudgetID(owner, period),
		OwnerID:         owner,
		Period:          period,
		MonthlyBudget:   monthly,
		CurrentSpending: spending,
		UpdatedAt:       s.now(),
	}
	s.budgets[b.ID] = b
	return b, nil
}

func (s *Store) UpdateSpending(ctx context.Context, owner string, period core.PeriodKey, spending decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := core.BudgetID(owner, period)
	b, ok := s.budgets[id]
	if !ok {
		return nil
	}
	b.CurrentSpending = spending
	b.UpdatedAt = s.now()
	s.budgets[id] = b
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg core.ChatMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.NewString()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

func (s *Store) ListMessages(ctx context.Context, owner string) ([]core.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ChatMessage, 0)
	for _, m := range s.messages {
		if m.OwnerID == owner {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) AdviceExceeded(ctx context.Context, owner string, period core.PeriodKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advice[core.BudgetID(owner, period)], nil
}

func (s *Store) SetAdviceExceeded(ctx context.Context, owner string, period core.PeriodKey, exceeded bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advice[core.BudgetID(owner, period)] = exceeded
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }
