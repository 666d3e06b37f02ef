package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"smartspend/internal/core"
	"smartspend/internal/events"
	"smartspend/internal/ledger"
	"smartspend/internal/metrics"
	"smartspend/internal/session"
	"smartspend/internal/storage"
)

// Store is the persistence the ledger service needs.
type Store interface {
	storage.EntryStore
	storage.BudgetStore
	storage.ChatStore
}

// BudgetObserver is told about every freshly recomputed budget.
type BudgetObserver interface {
	Observe(ctx context.Context, b core.Budget, usage ledger.Usage) (bool, error)
}

// PeriodNotifier announces that a period's entries or budget changed. It is
// called while the period is locked and must not wait on the network; wrap a
// slow notifier in an AsyncNotifier.
type PeriodNotifier interface {
	NotifyPeriod(ctx context.Context, change PeriodChange) error
}

// PeriodChange describes a period after its spending was recomputed.
// Budget is nil when the period has none.
type PeriodChange struct {
	OwnerID string
	Period  core.PeriodKey
	Budget  *core.Budget
}

type LedgerConfig struct {
	// Location decides which month an entry date belongs to.
	Location *time.Location
	Currency string
}

// LedgerService owns every write that touches entries or budgets and keeps
// each budget's cached spending equal to the sum of its period's expenses.
type LedgerService struct {
	store    Store
	broker   *events.Broker
	observer BudgetObserver
	notifier PeriodNotifier
	metrics  *metrics.Metrics
	cfg      LedgerConfig
	locks    *keyedMutex
	reads    *keyedMutex
	now      func() time.Time
}

type Option func(*LedgerService)

func WithObserver(o BudgetObserver) Option {
	return func(s *LedgerService) { s.observer = o }
}

func WithNotifier(n PeriodNotifier) Option {
	return func(s *LedgerService) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *LedgerService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func NewLedgerService(store Store, broker *events.Broker, cfg LedgerConfig, opts ...Option) *LedgerService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Currency == "" {
		cfg.Currency = core.DefaultCurrency
	}
	if broker == nil {
		broker = events.NewBroker()
	}
	s := &LedgerService{
		store:  store,
		broker: broker,
		cfg:    cfg,
		locks:  newKeyedMutex(),
		reads:  newKeyedMutex(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Broker returns the broker snapshots are published to.
func (s *LedgerService) Broker() *events.Broker { return s.broker }

func (s *LedgerService) Location() *time.Location { return s.cfg.Location }

func (s *LedgerService) periodOf(t time.Time) core.PeriodKey {
	return core.PeriodOf(t, s.cfg.Location)
}

// AddEntry stores a new entry and recomputes the spending of its period.
func (s *LedgerService) AddEntry(ctx context.Context, f core.EntryFields) (core.Entry, error) {
	owner, ok := session.OwnerFromContext(ctx)
	if !ok {
		return core.Entry{}, core.ErrNotAuthenticated
	}
	e, err := core.NewEntry(owner, f)
	if err != nil {
		return core.Entry{}, err
	}
	id, err := s.store.AddEntry(ctx, e)
	s.metrics.ObserveMutation("add", err)
	if err != nil {
		return core.Entry{}, fmt.Errorf("add entry: %w", err)
	}
	e.ID = id

	period := s.periodOf(e.Date)
	slog.InfoContext(ctx, "Entry added",
		"owner_id", owner,
		"entry_id", id,
		"period", period,
		"type", e.Type,
		"amount", e.Amount.String())

	listed, err := s.afterMutation(ctx, owner, period, period)
	if stored, ok := findEntry(listed, id); ok {
		e = stored
	}
	return e, err
}

// UpdateEntry replaces the mutable fields of an entry. When the date moves the
// entry to another month both months are recomputed.
func (s *LedgerService) UpdateEntry(ctx context.Context, id string, f core.EntryFields) (core.Entry, error) {
	owner, ok := session.OwnerFromContext(ctx)
	if !ok {
		return core.Entry{}, core.ErrNotAuthenticated
	}
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return core.Entry{}, err
	}
	orig, updated, err := s.store.UpdateEntry(ctx, owner, id, f)
	s.metrics.ObserveMutation("update", err)
	if err != nil {
		return core.Entry{}, fmt.Errorf("update entry: %w", err)
	}

	from, to := s.periodOf(orig.Date), s.periodOf(updated.Date)
	slog.InfoContext(ctx, "Entry updated",
		"owner_id", owner,
		"entry_id", id,
		"from_period", from,
		"to_period", to)

	_, err = s.afterMutation(ctx, owner, to, from, to)
	return updated, err
}

// DeleteEntry removes an entry and recomputes the period it belonged to.
func (s *LedgerService) DeleteEntry(ctx context.Context, id string) error {
	owner, ok := session.OwnerFromContext(ctx)
	if !ok {
		return core.ErrNotAuthenticated
	}
	removed, err := s.store.DeleteEntry(ctx, owner, id)
	s.metrics.ObserveMutation("delete", err)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	period := s.periodOf(removed.Date)
	slog.InfoContext(ctx, "Entry deleted", "owner_id", owner, "entry_id", id, "period", period)

	_, err = s.afterMutation(ctx, owner, period, period)
	return err
}

// SetBudget upserts the monthly target of period with spending computed from
// the current entries, never reset to zero.
func (s *LedgerService) SetBudget(ctx context.Context, period core.PeriodKey, amount decimal.Decimal) (core.Budget, error) {
	owner, ok := session.OwnerFromContext(ctx)
	if !ok {
		return core.Budget{}, core.ErrNotAuthenticated
	}
	if _, err := core.ParsePeriodKey(string(period)); err != nil {
		return core.Budget{}, err
	}
	if err := core.ValidateBudgetAmount(amount); err != nil {
		return core.Budget{}, err
	}

	unlock, err := s.locks.Lock(ctx, lockKey(owner, period))
	if err != nil {
		return core.Budget{}, err
	}
	entries, version, err := s.listEntries(ctx, owner)
	if err != nil {
		unlock()
		s.metrics.ObserveMutation("set_budget", err)
		return core.Budget{}, fmt.Errorf("list entries: %w", err)
	}
	spending := ledger.TotalsByType(ledger.InPeriod(entries, period, s.cfg.Location)).Expense

	wctx := context.WithoutCancel(ctx)
	budget, err := s.store.SetBudget(wctx, owner, period, amount, spending)
	s.metrics.ObserveMutation("set_budget", err)
	if err != nil {
		unlock()
		return core.Budget{}, fmt.Errorf("set budget: %w", err)
	}
	s.observe(wctx, budget)
	s.publish(wctx, owner, period, version, entries, &budget)
	s.notify(wctx, PeriodChange{OwnerID: owner, Period: period, Budget: &budget})
	unlock()

	slog.InfoContext(ctx, "Budget set",
		"owner_id", owner,
		"period", period,
		"monthly_budget", amount.String(),
		"current_spending", spending.String())

	msg := core.ChatMessage{
		OwnerID:   owner,
		Text:      "Monthly budget set to " + core.FormatAmount(amount, s.cfg.Currency),
		Timestamp: s.now(),
	}
	if _, err := s.store.AppendMessage(wctx, msg); err != nil {
		slog.WarnContext(ctx, "Failed to record budget message", "owner_id", owner, "error", err)
	}
	return budget, nil
}

// Recompute rebuilds the spending of one period from the entries. It is
// idempotent and safe to call at any time.
func (s *LedgerService) Recompute(ctx context.Context, period core.PeriodKey) (*core.Budget, error) {
	owner, ok := session.OwnerFromContext(ctx)
	if !ok {
		return nil, core.ErrNotAuthenticated
	}
	if _, err := core.ParsePeriodKey(string(period)); err != nil {
		return nil, err
	}
	st, err := s.recompute(ctx, owner, period, true)
	if err != nil {
		return nil, fmt.Errorf("recompute %s: %w", period, err)
	}
	return st.budget, nil
}

// Entries lists the owner's entries newest first. Without an owner the list
// is empty. On a store failure the last published entries are returned along
// with the error.
func (s *LedgerService) Entries(ctx context.Context) ([]core.Entry, error) {
	owner, ok := session.OwnerFromContext(ctx)
	if !ok {
		return []core.Entry{}, nil
	}
	entries, err := s.store.ListEntries(ctx, owner)
	if err != nil {
		if core.IsCancellation(err) {
			return nil, err
		}
		fallback := []core.Entry{}
		if snap, ok := s.broker.Latest(owner); ok {
			fallback = snap.Entries()
		}
		return fallback, core.Persistence("list entries", err)
	}
	return entries, nil
}

// Budget returns the budget of period, nil when none is set.
func (s *LedgerService) Budget(ctx context.Context, period core.PeriodKey) (*core.Budget, error) {
	owner, ok := session.OwnerFromContext(ctx)
	if !ok {
		return nil, nil
	}
	b, err := s.store.GetBudget(ctx, owner, period)
	if err != nil {
		if core.IsCancellation(err) {
			return nil, err
		}
		var fallback *core.Budget
		if snap, ok := s.broker.Latest(owner); ok && snap.Period() == period {
			fallback = snap.Budget()
		}
		return fallback, core.Persistence("get budget", err)
	}
	return b, nil
}

// Analytics aggregates period for the owner. The daily window ends at ref.
func (s *LedgerService) Analytics(ctx context.Context, period core.PeriodKey, ref time.Time, windowDays int) (ledger.Report, error) {
	entries, err := s.Entries(ctx)
	if err != nil && core.IsCancellation(err) {
		return ledger.Report{}, err
	}
	budget, berr := s.Budget(ctx, period)
	if berr != nil && core.IsCancellation(berr) {
		return ledger.Report{}, berr
	}
	report := ledger.Analyze(entries, budget, period, ref, windowDays, s.cfg.Location)
	return report, errors.Join(err, berr)
}

// periodState is what a recompute leaves behind.
type periodState struct {
	entries []core.Entry
	budget  *core.Budget
}

// afterMutation recomputes periods concurrently and publishes a snapshot of
// current. A failed recompute leaves the entry write in place and reports
// ErrBudgetOutOfSync. The returned entries are the owner's full list as seen
// by the recompute of current.
func (s *LedgerService) afterMutation(ctx context.Context, owner string, current core.PeriodKey, periods ...core.PeriodKey) ([]core.Entry, error) {
	periods = uniquePeriods(periods)

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make(map[core.PeriodKey]periodState, len(periods))
	)
	for _, period := range periods {
		g.Go(func() error {
			st, err := s.recompute(ctx, owner, period, period == current)
			if err != nil {
				return fmt.Errorf("recompute %s: %w", period, err)
			}
			mu.Lock()
			results[period] = st
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "Budget recompute failed after entry write",
			"owner_id", owner,
			"periods", periods,
			"error", err)
		return results[current].entries, fmt.Errorf("%w: %w", core.ErrBudgetOutOfSync, core.Persistence("recompute", err))
	}
	return results[current].entries, nil
}

// recompute rebuilds one period under its lock, then announces it and, when
// publish is set, publishes its snapshot before the lock is released. A
// cancelled ctx stops it before anything is written; once the write starts it
// runs to completion.
func (s *LedgerService) recompute(ctx context.Context, owner string, period core.PeriodKey, publish bool) (st periodState, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveRecompute(started, err) }()

	unlock, err := s.locks.Lock(ctx, lockKey(owner, period))
	if err != nil {
		return periodState{}, err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return periodState{}, err
	}
	entries, version, err := s.listEntries(ctx, owner)
	if err != nil {
		return periodState{}, fmt.Errorf("list entries: %w", err)
	}
	spending := ledger.TotalsByType(ledger.InPeriod(entries, period, s.cfg.Location)).Expense

	wctx := context.WithoutCancel(ctx)
	if err := s.store.UpdateSpending(wctx, owner, period, spending); err != nil {
		return periodState{}, fmt.Errorf("update spending: %w", err)
	}
	budget, err := s.store.GetBudget(wctx, owner, period)
	if err != nil {
		return periodState{}, fmt.Errorf("get budget: %w", err)
	}
	if budget != nil {
		s.observe(wctx, *budget)
	}
	if publish {
		s.publish(wctx, owner, period, version, entries, budget)
	}
	s.notify(wctx, PeriodChange{OwnerID: owner, Period: period, Budget: budget})

	slog.DebugContext(ctx, "Budget recomputed",
		"owner_id", owner,
		"period", period,
		"current_spending", spending.String(),
		"has_budget", budget != nil)
	return periodState{entries: entries, budget: budget}, nil
}

// observe feeds the advice trigger. Its failures never fail the mutation.
func (s *LedgerService) observe(ctx context.Context, b core.Budget) {
	if s.observer == nil {
		return
	}
	usage := ledger.BudgetUsage(b.CurrentSpending, b.MonthlyBudget)
	if _, err := s.observer.Observe(ctx, b, usage); err != nil {
		slog.WarnContext(ctx, "Advice trigger failed",
			"owner_id", b.OwnerID,
			"period", b.Period,
			"error", err)
	}
}

// listEntries reads the owner's entries and reserves a snapshot version in one
// step per owner, so a higher version never carries an older list.
func (s *LedgerService) listEntries(ctx context.Context, owner string) ([]core.Entry, uint64, error) {
	unlock, err := s.reads.Lock(ctx, owner)
	if err != nil {
		return nil, 0, err
	}
	defer unlock()
	version := s.broker.NextVersion()
	entries, err := s.store.ListEntries(ctx, owner)
	if err != nil {
		return nil, 0, err
	}
	return entries, version, nil
}

func (s *LedgerService) publish(ctx context.Context, owner string, period core.PeriodKey, version uint64, entries []core.Entry, budget *core.Budget) {
	snap := s.broker.Publish(events.NewSnapshot(owner, period, entries, budget).WithVersion(version))
	if snap.IsZero() {
		slog.DebugContext(ctx, "Snapshot superseded", "owner_id", owner, "period", period, "version", version)
		return
	}
	s.metrics.ObserveSnapshot()
	slog.DebugContext(ctx, "Snapshot published", "owner_id", owner, "period", period, "seq", snap.Seq())
}

func (s *LedgerService) notify(ctx context.Context, change PeriodChange) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyPeriod(ctx, change); err != nil {
		slog.WarnContext(ctx, "Failed to announce period change",
			"owner_id", change.OwnerID,
			"period", change.Period,
			"error", err)
	}
}

func lockKey(owner string, period core.PeriodKey) string {
	return core.BudgetID(owner, period)
}

func uniquePeriods(periods []core.PeriodKey) []core.PeriodKey {
	seen := make(map[core.PeriodKey]bool, len(periods))
	out := make([]core.PeriodKey, 0, len(periods))
	for _, p := range periods {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func findEntry(entries []core.Entry, id string) (core.Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return core.Entry{}, false
}
