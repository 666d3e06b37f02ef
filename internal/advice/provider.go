// Package advice turns budget overruns into AI-generated advice messages.
package advice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartspend/internal/core"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 30 * time.Second

// Provider is an opaque text-completion service.
// Failures are reported as core.ErrProviderTimeout or core.ErrProvider.
type Provider interface {
	Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// ProviderFunc adapts a plain function. The timeout is enforced around it.
type ProviderFunc func(ctx context.Context, prompt string) (string, error)

func (f ProviderFunc) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return complete(ctx, timeout, func(ctx context.Context) (string, error) { return f(ctx, prompt) })
}

// Unavailable is used when no provider is configured. Every call fails with
// core.ErrProvider so callers fall back to canned text.
type Unavailable struct{}

func (Unavailable) Complete(context.Context, string, time.Duration) (string, error) {
	return "", fmt.Errorf("%w: no advice provider configured", core.ErrProvider)
}

// complete runs fn with a deadline. A provider that ignores its context is
// abandoned when the deadline passes. Cancellation of the parent context is
// returned as is so callers can tell it apart from a provider failure.
func complete(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := fn(callCtx)
		done <- result{text, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-callCtx.Done():
		r.err = callCtx.Err()
	}

	if r.err == nil {
		return strings.TrimSpace(r.text), nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", core.ErrProviderTimeout, timeout)
	}
	if errors.Is(r.err, core.ErrProvider) || errors.Is(r.err, core.ErrProviderTimeout) {
		return "", r.err
	}
	return "", fmt.Errorf("%w: %v", core.ErrProvider, r.err)
}
