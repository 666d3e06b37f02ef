package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartspend/internal/core"
)

type failingNotifier struct{}

func (failingNotifier) NotifyPeriod(context.Context, PeriodChange) error {
	return errors.New("broker unreachable")
}

func TestAsyncNotifierKeepsOrder(t *testing.T) {
	rec := &recordingNotifier{}
	n := NewAsyncNotifier(rec)

	want := []core.PeriodKey{"2024-01", "2024-02", "2024-03", "2024-02"}
	for _, p := range want {
		require.NoError(t, n.NotifyPeriod(context.Background(), PeriodChange{OwnerID: "u1", Period: p}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))
	assert.Equal(t, want, rec.periods())
	assert.Equal(t, 0, n.Pending())

	err := n.NotifyPeriod(context.Background(), PeriodChange{OwnerID: "u1", Period: "2024-04"})
	assert.ErrorIs(t, err, ErrNotifierClosed)
}

func TestAsyncNotifierDetachesFromCaller(t *testing.T) {
	rec := &recordingNotifier{}
	n := NewAsyncNotifier(rec)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.NotifyPeriod(ctx, PeriodChange{OwnerID: "u1", Period: "2024-03"}))
	cancel()

	closeCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, n.Close(closeCtx))
	assert.Equal(t, []core.PeriodKey{"2024-03"}, rec.periods())
}

func TestAsyncNotifierSwallowsFailures(t *testing.T) {
	n := NewAsyncNotifier(failingNotifier{})
	require.NoError(t, n.NotifyPeriod(context.Background(), PeriodChange{OwnerID: "u1", Period: "2024-03"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, n.Close(ctx))
}

func TestAsyncNotifierCloseGivesUpOnContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	n := NewAsyncNotifier(&stallingNotifier{release: release})
	require.NoError(t, n.NotifyPeriod(context.Background(), PeriodChange{OwnerID: "u1", Period: "2024-03"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.Close(ctx), context.DeadlineExceeded)
}
