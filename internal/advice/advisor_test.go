package advice

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartspend/internal/core"
	"smartspend/internal/metrics"
	"smartspend/internal/storage/memory"
)

func seedEntry(t *testing.T, store *memory.Store, title, amount string, day int) {
	t.Helper()
	e, err := core.NewEntry("u1", core.EntryFields{
		Title:    title,
		Amount:   decimal.RequireFromString(amount),
		Date:     time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC),
		Category: "Food",
		Type:     core.EntryExpense,
	})
	require.NoError(t, err)
	_, err = store.AddEntry(context.Background(), e)
	require.NoError(t, err)
}

func TestAdvisor_DeliverRecordsAdvice(t *testing.T) {
	store := memory.New()
	seedEntry(t, store, "Groceries", "150", 10)

	var prompt string
	provider := ProviderFunc(func(ctx context.Context, p string) (string, error) {
		prompt = p
		return "Cook at home more often.", nil
	})
	a := NewAdvisor(provider, store, metrics.New(), DefaultAdvisorConfig())

	msg, err := a.Deliver(context.Background(), Request{
		OwnerID:         "u1",
		Period:          "2024-01",
		MonthlyBudget:   decimal.NewFromInt(100),
		CurrentSpending: decimal.NewFromInt(150),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.FromUser)
	assert.Equal(t, "Budget Alert Advice:\n\nCook at home more often.", msg.Text)
	assert.Contains(t, prompt, "My monthly budget is $100.00 and I've spent $150.00 so far.")
	assert.Contains(t, prompt, "Groceries: $150.00 (Food)")

	history, err := store.ListMessages(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.Text, history[0].Text)
}

func TestAdvisor_FallsBackOnProviderFailure(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
	}{
		{name: "error", provider: ProviderFunc(func(context.Context, string) (string, error) {
			return "", errors.New("boom")
		})},
		{name: "blank", provider: ProviderFunc(func(context.Context, string) (string, error) {
			return "   ", nil
		})},
		{name: "timeout", provider: ProviderFunc(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})},
		{name: "unconfigured", provider: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			cfg := DefaultAdvisorConfig()
			cfg.Timeout = 20 * time.Millisecond
			a := NewAdvisor(tt.provider, store, nil, cfg)

			msg, err := a.Deliver(context.Background(), Request{
				OwnerID:       "u1",
				Period:        "2024-01",
				MonthlyBudget: decimal.NewFromInt(100),
			})
			require.NoError(t, err)
			assert.Equal(t, "Budget Alert Advice:\n\n"+FallbackAdvice, msg.Text)
		})
	}
}

func TestAdvisor_RequestAdvice(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	called := false
	provider := ProviderFunc(func(context.Context, string) (string, error) {
		called = true
		return "Keep it up.", nil
	})
	a := NewAdvisor(provider, store, nil, DefaultAdvisorConfig())

	msg, err := a.RequestAdvice(ctx, "u1", "2024-01")
	require.NoError(t, err)
	assert.Equal(t, NoBudgetAdvice, msg.Text)
	assert.False(t, called, "provider called without a budget")

	_, err = store.SetBudget(ctx, "u1", "2024-01", decimal.NewFromInt(500), decimal.Zero)
	require.NoError(t, err)
	msg, err = a.RequestAdvice(ctx, "u1", "2024-01")
	require.NoError(t, err)
	assert.Equal(t, "Keep it up.", msg.Text)

	_, err = a.RequestAdvice(ctx, "", "2024-01")
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
}

func TestBuildPrompt(t *testing.T) {
	req := Request{MonthlyBudget: decimal.NewFromInt(1200), CurrentSpending: decimal.RequireFromString("80.5")}

	got := BuildPrompt(req, nil, "USD")
	want := "My monthly budget is $1,200.00 and I've spent $80.50 so far. Give me some financial advice to manage my budget better."
	if got != want {
		t.Errorf("BuildPrompt() = %q, want %q", got, want)
	}

	recent := []core.Entry{
		{Title: "Rent", Amount: decimal.NewFromInt(800), Category: "Housing"},
		{Title: "Coffee", Amount: decimal.RequireFromString("3.2")},
	}
	got = BuildPrompt(req, recent, "USD")
	if !strings.Contains(got, "Recent entries: Rent: $800.00 (Housing), Coffee: $3.20 (Uncategorized).") {
		t.Errorf("BuildPrompt() = %q, missing recent entries", got)
	}
}
