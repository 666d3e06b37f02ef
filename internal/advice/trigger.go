package advice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smartspend/internal/core"
	"smartspend/internal/ledger"
	"smartspend/internal/storage"
)

// Trigger fires once per exceeded episode of a period: on the transition from
// within budget to over budget. The flag lives in the store so a restart does
// not fire again for an episode that already got its advice.
//
// Callers serialize Observe per (owner, period); the read and write of the
// flag are not atomic on their own.
type Trigger struct {
	state      storage.AdviceStateStore
	dispatcher Dispatcher
	now        func() time.Time
}

func NewTrigger(state storage.AdviceStateStore, dispatcher Dispatcher) *Trigger {
	return &Trigger{state: state, dispatcher: dispatcher, now: time.Now}
}

// Observe inspects a freshly recomputed budget and dispatches advice on an
// under-to-over transition. It reports whether a request was dispatched.
func (t *Trigger) Observe(ctx context.Context, b core.Budget, usage ledger.Usage) (bool, error) {
	was, err := t.state.AdviceExceeded(ctx, b.OwnerID, b.Period)
	if err != nil {
		return false, fmt.Errorf("read advice state: %w", err)
	}

	if !usage.Exceeded {
		if was {
			if err := t.state.SetAdviceExceeded(ctx, b.OwnerID, b.Period, false); err != nil {
				return false, fmt.Errorf("reset advice state: %w", err)
			}
			slog.DebugContext(ctx, "Budget back under limit, advice trigger re-armed",
				"owner_id", b.OwnerID, "period", b.Period)
		}
		return false, nil
	}
	if was {
		return false, nil
	}

	// Flag before dispatch; reverted below when dispatch fails.
	if err := t.state.SetAdviceExceeded(ctx, b.OwnerID, b.Period, true); err != nil {
		return false, fmt.Errorf("set advice state: %w", err)
	}

	req := Request{
		OwnerID:         b.OwnerID,
		Period:          b.Period,
		MonthlyBudget:   b.MonthlyBudget,
		CurrentSpending: b.CurrentSpending,
		RequestedAt:     t.now(),
	}
	if err := t.dispatcher.Dispatch(ctx, req); err != nil {
		if rerr := t.state.SetAdviceExceeded(context.WithoutCancel(ctx), b.OwnerID, b.Period, false); rerr != nil {
			slog.ErrorContext(ctx, "Failed to re-arm advice trigger", "owner_id", b.OwnerID, "period", b.Period, "error", rerr)
		}
		return false, fmt.Errorf("dispatch advice: %w", err)
	}

	slog.InfoContext(ctx, "Budget exceeded, advice requested",
		"owner_id", b.OwnerID,
		"period", b.Period,
		"monthly_budget", b.MonthlyBudget.String(),
		"current_spending", b.CurrentSpending.String())
	return true, nil
}
