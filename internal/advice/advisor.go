package advice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smartspend/internal/core"
	"smartspend/internal/ledger"
	"smartspend/internal/metrics"
	"smartspend/internal/storage"
)

const (
	// FallbackAdvice replaces the provider's answer when it fails or is blank.
	FallbackAdvice = "Unable to get advice right now. Try to keep your spending under your monthly budget."
	// NoBudgetAdvice answers a manual request for a period without a budget.
	NoBudgetAdvice = "Please set a monthly budget first to get AI advice!"

	alertPrefix          = "Budget Alert Advice:\n\n"
	defaultRecentEntries = 5
)

type AdvisorConfig struct {
	Timeout       time.Duration
	RecentEntries int
	Currency      string
}

func DefaultAdvisorConfig() AdvisorConfig {
	return AdvisorConfig{
		Timeout:       DefaultTimeout,
		RecentEntries: defaultRecentEntries,
		Currency:      core.DefaultCurrency,
	}
}

// Advisor asks the provider for advice and records the answer in the chat log.
type Advisor struct {
	provider Provider
	entries  storage.EntryStore
	budgets  storage.BudgetStore
	chat     storage.ChatStore
	metrics  *metrics.Metrics
	cfg      AdvisorConfig
	now      func() time.Time
}

func NewAdvisor(provider Provider, store interface {
	storage.EntryStore
	storage.BudgetStore
	storage.ChatStore
}, m *metrics.Metrics, cfg AdvisorConfig) *Advisor {
	if provider == nil {
		provider = Unavailable{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RecentEntries <= 0 {
		cfg.RecentEntries = defaultRecentEntries
	}
	if cfg.Currency == "" {
		cfg.Currency = core.DefaultCurrency
	}
	return &Advisor{
		provider: provider,
		entries:  store,
		budgets:  store,
		chat:     store,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Deliver handles a budget alert: it asks for advice and appends it to the
// owner's chat log. Provider failures fall back to FallbackAdvice; only a
// failure to record the message is returned.
func (a *Advisor) Deliver(ctx context.Context, req Request) (core.ChatMessage, error) {
	text, err := a.advise(ctx, req)
	if err != nil {
		return core.ChatMessage{}, err
	}
	msg := core.ChatMessage{
		OwnerID:   req.OwnerID,
		Text:      alertPrefix + text,
		Timestamp: a.now(),
	}
	if msg.ID, err = a.chat.AppendMessage(ctx, msg); err != nil {
		return core.ChatMessage{}, fmt.Errorf("record advice: %w", err)
	}
	slog.InfoContext(ctx, "Budget alert advice recorded", "owner_id", req.OwnerID, "period", req.Period)
	return msg, nil
}

// RequestAdvice is the on-demand variant. A period without a budget gets
// NoBudgetAdvice instead of a provider call.
func (a *Advisor) RequestAdvice(ctx context.Context, owner string, period core.PeriodKey) (core.ChatMessage, error) {
	if owner == "" {
		return core.ChatMessage{}, core.ErrNotAuthenticated
	}
	budget, err := a.budgets.GetBudget(ctx, owner, period)
	if err != nil {
		return core.ChatMessage{}, fmt.Errorf("get budget: %w", err)
	}

	text := NoBudgetAdvice
	if budget != nil {
		text, err = a.advise(ctx, Request{
			OwnerID:         owner,
			Period:          period,
			MonthlyBudget:   budget.MonthlyBudget,
			CurrentSpending: budget.CurrentSpending,
			RequestedAt:     a.now(),
		})
		if err != nil {
			return core.ChatMessage{}, err
		}
	}

	msg := core.ChatMessage{OwnerID: owner, Text: text, Timestamp: a.now()}
	if msg.ID, err = a.chat.AppendMessage(ctx, msg); err != nil {
		return core.ChatMessage{}, fmt.Errorf("record advice: %w", err)
	}
	return msg, nil
}

// advise returns provider text or the fallback. Only cancellation is an error.
func (a *Advisor) advise(ctx context.Context, req Request) (string, error) {
	entries, err := a.entries.ListEntries(ctx, req.OwnerID)
	if err != nil {
		if core.IsCancellation(err) {
			return "", err
		}
		slog.WarnContext(ctx, "Listing entries for advice failed, prompting without them",
			"owner_id", req.OwnerID, "error", err)
		entries = nil
	}
	prompt := BuildPrompt(req, ledger.Recent(entries, a.cfg.RecentEntries), a.cfg.Currency)

	text, err := a.provider.Complete(ctx, prompt, a.cfg.Timeout)
	switch {
	case err == nil && text != "":
		a.metrics.ObserveAdvice("ok")
		return text, nil
	case err == nil:
		a.metrics.ObserveAdvice("empty")
	case core.IsCancellation(err):
		return "", err
	case errors.Is(err, core.ErrProviderTimeout):
		a.metrics.ObserveAdvice("timeout")
		slog.WarnContext(ctx, "Advice provider timed out", "owner_id", req.OwnerID, "timeout", a.cfg.Timeout)
	default:
		a.metrics.ObserveAdvice("error")
		slog.WarnContext(ctx, "Advice provider failed", "owner_id", req.OwnerID, "error", err)
	}
	return FallbackAdvice, nil
}

// BuildPrompt describes the budget situation and the most recent entries.
func BuildPrompt(req Request, recent []core.Entry, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "My monthly budget is %s and I've spent %s so far.",
		core.FormatAmount(req.MonthlyBudget, currency),
		core.FormatAmount(req.CurrentSpending, currency))
	if len(recent) > 0 {
		b.WriteString(" Recent entries: ")
		for i, e := range recent {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s (%s)", e.Title, core.FormatAmount(e.Amount, currency), core.NormalizeCategory(e.Category))
		}
		b.WriteString(".")
	}
	b.WriteString(" Give me some financial advice to manage my budget better.")
	return b.String()
}
