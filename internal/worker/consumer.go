package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"smartspend/internal/amqp"
)

// Source delivers envelopes until ctx is done.
type Source interface {
	Consume(ctx context.Context, handler amqp.Handler) error
}

// Consumer runs a Source in the background with explicit Start and Stop.
type Consumer struct {
	source  Source
	handler amqp.Handler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	err     error
}

func NewConsumer(source Source, handler amqp.Handler) *Consumer {
	return &Consumer{source: source, handler: handler}
}

// Start begins consuming. Returns an error if already running.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.err = nil

	go c.run(runCtx, c.doneCh)

	slog.InfoContext(ctx, "Consumer started")
	return nil
}

func (c *Consumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := c.source.Consume(ctx, c.handler)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "Consumer stopped with error", "error", err)
	}

	c.mu.Lock()
	c.err = err
	c.running = false
	c.mu.Unlock()
}

// Stop cancels consumption and waits for the in-flight envelope or ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.doneCh
	c.mu.Unlock()

	cancel()

	select {
	case <-done:
		slog.InfoContext(ctx, "Consumer stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Consumer stop timed out")
		return ctx.Err()
	}
}

// Done is closed when the consumer exits. Nil before Start.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneCh
}

// Err reports why the last run ended; nil for a clean stop.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
