package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrPersistence      = errors.New("persistence failure")
	ErrBudgetOutOfSync  = errors.New("budget spending out of sync")
	ErrProviderTimeout  = errors.New("advice provider timed out")
	ErrProvider         = errors.New("advice provider failed")

	ErrEmptyTitle    = errors.New("empty title")
	ErrEmptyMessage  = errors.New("empty message")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidType   = errors.New("invalid entry type")
	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidBudget = errors.New("invalid monthly budget")
)

// ValidationError reports which input field was rejected.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCancellation separates a caller walking away from a real failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Persistence wraps a backend error so callers can match ErrPersistence.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsCancellation(err) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
