package advice

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"smartspend/internal/core"
	"smartspend/internal/ledger"
	"smartspend/internal/storage/memory"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	reqs []Request
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.reqs = append(d.reqs, req)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reqs)
}

func budgetWith(monthly, spending int64) (core.Budget, ledger.Usage) {
	b := core.Budget{
		OwnerID:         "u1",
		Period:          "2024-01",
		MonthlyBudget:   decimal.NewFromInt(monthly),
		CurrentSpending: decimal.NewFromInt(spending),
	}
	return b, ledger.BudgetUsage(b.CurrentSpending, b.MonthlyBudget)
}

func TestTrigger_FiresOncePerEpisode(t *testing.T) {
	store := memory.New()
	disp := &recordingDispatcher{}
	trig := NewTrigger(store, disp)
	ctx := context.Background()

	steps := []struct {
		spending  int64
		wantFired bool
	}{
		{spending: 50, wantFired: false},
		{spending: 150, wantFired: true},
		{spending: 180, wantFired: false},
		{spending: 100, wantFired: false}, // exactly at budget is not exceeded
		{spending: 120, wantFired: true},
	}

	for i, step := range steps {
		b, u := budgetWith(100, step.spending)
		fired, err := trig.Observe(ctx, b, u)
		if err != nil {
			t.Fatalf("step %d: Observe() error = %v", i, err)
		}
		if fired != step.wantFired {
			t.Errorf("step %d: Observe() fired = %v, want %v", i, fired, step.wantFired)
		}
	}
	if got := disp.count(); got != 2 {
		t.Errorf("dispatched %d requests, want 2", got)
	}
	if got := disp.reqs[0].CurrentSpending; !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("first request spending = %s, want 150", got)
	}
}

func TestTrigger_StateSurvivesRestart(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	b, u := budgetWith(100, 150)

	first := &recordingDispatcher{}
	if _, err := NewTrigger(store, first).Observe(ctx, b, u); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	second := &recordingDispatcher{}
	fired, err := NewTrigger(store, second).Observe(ctx, b, u)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if fired || second.count() != 0 {
		t.Errorf("restarted trigger fired again for the same episode")
	}
}

func TestTrigger_DispatchFailureRearms(t *testing.T) {
	store := memory.New()
	disp := &recordingDispatcher{err: errors.New("broker down")}
	trig := NewTrigger(store, disp)
	ctx := context.Background()
	b, u := budgetWith(100, 150)

	if _, err := trig.Observe(ctx, b, u); err == nil {
		t.Fatal("Observe() expected dispatch error")
	}
	exceeded, err := store.AdviceExceeded(ctx, "u1", "2024-01")
	if err != nil {
		t.Fatalf("AdviceExceeded() error = %v", err)
	}
	if exceeded {
		t.Error("flag left set after failed dispatch")
	}

	disp.err = nil
	fired, err := trig.Observe(ctx, b, u)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if !fired {
		t.Error("Observe() did not retry after a failed dispatch")
	}
}

func TestTrigger_PeriodsAreIndependent(t *testing.T) {
	store := memory.New()
	disp := &recordingDispatcher{}
	trig := NewTrigger(store, disp)
	ctx := context.Background()

	jan, u := budgetWith(100, 150)
	feb := jan
	feb.Period = "2024-02"

	for _, b := range []core.Budget{jan, feb} {
		if _, err := trig.Observe(ctx, b, u); err != nil {
			t.Fatalf("Observe(%s) error = %v", b.Period, err)
		}
	}
	if got := disp.count(); got != 2 {
		t.Errorf("dispatched %d requests, want one per period", got)
	}
}
