// Package storage defines the persistence ports of the ledger.
//
// Stores only persist. They never recompute budgets or notify anyone; that is
// the job of the services layer.
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"smartspend/internal/core"
)

type (
	// EntryStore persists ledger entries scoped by owner.
	EntryStore interface {
		// ListEntries returns the owner's entries, newest first.
		ListEntries(ctx context.Context, owner string) ([]core.Entry, error)
		// GetEntry fails with core.ErrNotFound when id is absent or owned by someone else.
		GetEntry(ctx context.Context, owner, id string) (core.Entry, error)
		// AddEntry assigns the id and creation time. It is not idempotent.
		AddEntry(ctx context.Context, e core.Entry) (string, error)
		// UpdateEntry replaces every mutable field and stamps the modification time.
		// It returns the entry as it was and as it is now, read in the same atomic
		// step as the write.
		UpdateEntry(ctx context.Context, owner, id string, f core.EntryFields) (before, after core.Entry, err error)
		// DeleteEntry removes the entry permanently and returns what was removed.
		DeleteEntry(ctx context.Context, owner, id string) (core.Entry, error)
	}

	// BudgetStore persists one budget per (owner, period).
	BudgetStore interface {
		// GetBudget returns nil and no error when the period has no budget.
		GetBudget(ctx context.Context, owner string, period core.PeriodKey) (*core.Budget, error)
		// SetBudget upserts the target and the freshly computed spending.
		SetBudget(ctx context.Context, owner string, period core.PeriodKey, monthly, spending decimal.Decimal) (core.Budget, error)
		// UpdateSpending overwrites the cached figure. Missing budgets are left alone.
		UpdateSpending(ctx context.Context, owner string, period core.PeriodKey, spending decimal.Decimal) error
	}

	ChatStore interface {
		AppendMessage(ctx context.Context, msg core.ChatMessage) (string, error)
		// ListMessages returns the owner's messages, oldest first.
		ListMessages(ctx context.Context, owner string) ([]core.ChatMessage, error)
	}

	// AdviceStateStore keeps the edge-trigger flag of the budget alert.
	AdviceStateStore interface {
		AdviceExceeded(ctx context.Context, owner string, period core.PeriodKey) (bool, error)
		SetAdviceExceeded(ctx context.Context, owner string, period core.PeriodKey, exceeded bool) error
	}

	// Store is a complete backend.
	Store interface {
		EntryStore
		BudgetStore
		ChatStore
		AdviceStateStore
		Ping(ctx context.Context) error
		Close() error
	}
)
