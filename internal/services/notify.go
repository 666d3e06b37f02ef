package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNotifierClosed is returned by NotifyPeriod after Close.
var ErrNotifierClosed = errors.New("period notifier closed")

// AsyncNotifier hands period changes to another notifier from one background
// goroutine, in the order they were queued. NotifyPeriod only enqueues.
type AsyncNotifier struct {
	next PeriodNotifier

	mu     sync.Mutex
	queue  []queuedChange
	closed bool
	signal chan struct{}
	done   chan struct{}
}

type queuedChange struct {
	ctx    context.Context
	change PeriodChange
}

func NewAsyncNotifier(next PeriodNotifier) *AsyncNotifier {
	n := &AsyncNotifier{
		next:   next,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *AsyncNotifier) NotifyPeriod(ctx context.Context, change PeriodChange) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrNotifierClosed
	}
	n.queue = append(n.queue, queuedChange{ctx: context.WithoutCancel(ctx), change: change})
	n.mu.Unlock()
	n.wake()
	return nil
}

// Pending reports how many changes are waiting to be forwarded.
func (n *AsyncNotifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Close stops accepting changes and waits until the queue drains or ctx ends.
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wake()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *AsyncNotifier) wake() {
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

func (n *AsyncNotifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			closed := n.closed
			n.mu.Unlock()
			if closed {
				return
			}
			<-n.signal
			continue
		}
		item := n.queue[0]
		n.queue[0] = queuedChange{}
		n.queue = n.queue[1:]
		n.mu.Unlock()

		if err := n.next.NotifyPeriod(item.ctx, item.change); err != nil {
			slog.WarnContext(item.ctx, "Failed to announce period change",
				"owner_id", item.change.OwnerID,
				"period", item.change.Period,
				"error", err)
		}
	}
}
