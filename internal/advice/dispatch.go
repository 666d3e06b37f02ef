package advice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"smartspend/internal/core"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("advice dispatcher closed")

// Request asks for advice on one owner's period.
type Request struct {
	OwnerID         string          `json:"owner_id"`
	Period          core.PeriodKey  `json:"period"`
	MonthlyBudget   decimal.Decimal `json:"monthly_budget"`
	CurrentSpending decimal.Decimal `json:"current_spending"`
	RequestedAt     time.Time       `json:"requested_at"`
}

// Dispatcher hands a request to whatever produces the advice. Dispatch must
// not wait for the advice itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

type DispatcherFunc func(ctx context.Context, req Request) error

func (f DispatcherFunc) Dispatch(ctx context.Context, req Request) error { return f(ctx, req) }

// Handler produces advice for a request.
type Handler func(ctx context.Context, req Request) error

// AsyncDispatcher runs the handler in background goroutines detached from the
// caller's cancellation, with at most limit handlers in flight.
type AsyncDispatcher struct {
	handler Handler
	sem     chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewAsyncDispatcher(handler Handler, limit int) *AsyncDispatcher {
	if limit <= 0 {
		limit = 4
	}
	return &AsyncDispatcher{handler: handler, sem: make(chan struct{}, limit)}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, req Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		if err := d.handler(detached, req); err != nil {
			slog.ErrorContext(detached, "Advice delivery failed",
				"owner_id", req.OwnerID,
				"period", req.Period,
				"error", err)
		}
	}()
	return nil
}

// Close stops accepting requests and waits for in-flight ones or ctx.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
