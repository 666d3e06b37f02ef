package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"smartspend/internal/core"
)

func snap(owner string, spending int64) Snapshot {
	return NewSnapshot(owner, "2024-03",
		[]core.Entry{{ID: "e1", OwnerID: owner, Amount: decimal.NewFromInt(spending)}},
		&core.Budget{OwnerID: owner, Period: "2024-03", CurrentSpending: decimal.NewFromInt(spending)})
}

func next(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	return s
}

func TestSubscriberGetsLatestThenSubsequent(t *testing.T) {
	b := NewBroker()
	b.Publish(snap("u1", 1))
	b.Publish(snap("u1", 2))

	sub := b.Subscribe("u1")
	defer sub.Close()

	b.Publish(snap("u2", 99))
	b.Publish(snap("u1", 3))
	b.Publish(snap("u1", 4))

	for _, want := range []int64{2, 3, 4} {
		got := next(t, sub)
		if !got.Budget().CurrentSpending.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("spending = %v, want %d", got.Budget().CurrentSpending, want)
		}
		if got.Owner() != "u1" {
			t.Fatalf("Owner() = %q, want u1", got.Owner())
		}
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	entries := []core.Entry{{ID: "e1", Title: "orig"}}
	budget := &core.Budget{MonthlyBudget: decimal.NewFromInt(10)}
	s := NewSnapshot("u1", "2024-03", entries, budget)

	entries[0].Title = "changed"
	budget.MonthlyBudget = decimal.NewFromInt(1)
	if s.Entries()[0].Title != "orig" {
		t.Error("snapshot shares the caller's entry slice")
	}
	if !s.Budget().MonthlyBudget.Equal(decimal.NewFromInt(10)) {
		t.Error("snapshot shares the caller's budget")
	}

	got := s.Entries()
	got[0].Title = "mutated"
	if s.Entries()[0].Title != "orig" {
		t.Error("Entries() exposes internal state")
	}
	s.Budget().MonthlyBudget = decimal.NewFromInt(7)
	if !s.Budget().MonthlyBudget.Equal(decimal.NewFromInt(10)) {
		t.Error("Budget() exposes internal state")
	}
}

func TestWildcardSubscriber(t *testing.T) {
	b := NewBroker()
	b.Publish(snap("u2", 5))
	b.Publish(snap("u1", 6))

	sub := b.Subscribe("")
	defer sub.Close()
	first, second := next(t, sub), next(t, sub)
	if first.Owner() != "u2" || second.Owner() != "u1" {
		t.Errorf("replay order = %s, %s; want u2, u1", first.Owner(), second.Owner())
	}
	if first.Seq() >= second.Seq() {
		t.Errorf("Seq() not increasing: %d, %d", first.Seq(), second.Seq())
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("u1")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(snap("u1", int64(i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on an idle subscriber")
	}
	for i := 0; i < 1000; i++ {
		if got := next(t, sub); got.Budget().CurrentSpending.IntPart() != int64(i) {
			t.Fatalf("snapshot %d out of order: %v", i, got.Budget().CurrentSpending)
		}
	}
}

func TestCloseAndCancel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("u1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next(cancelled) error = %v, want context.Canceled", err)
	}

	sub.Close()
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after Close, want 0", b.Subscribers())
	}
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next(closed) error = %v, want ErrClosed", err)
	}

	other := b.Subscribe("u1")
	b.Close()
	if _, err := other.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next() after broker Close error = %v, want ErrClosed", err)
	}
}

func TestOlderVersionIsDropped(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("u1")
	defer sub.Close()

	older, newer := b.NextVersion(), b.NextVersion()
	if got := b.Publish(snap("u1", 15).WithVersion(newer)); got.IsZero() {
		t.Fatal("newer snapshot was dropped")
	}
	if got := b.Publish(snap("u1", 10).WithVersion(older)); !got.IsZero() {
		t.Errorf("older snapshot published with seq %d", got.Seq())
	}
	// Another owner's versions are independent of u1's latest.
	if got := b.Publish(snap("u2", 1).WithVersion(older)); got.IsZero() {
		t.Error("u2 snapshot dropped")
	}

	latest, ok := b.Latest("u1")
	if !ok || !latest.Budget().CurrentSpending.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("Latest() spending = %v, want 15", latest.Budget().CurrentSpending)
	}
	if latest.Version() != newer {
		t.Errorf("Latest().Version() = %d, want %d", latest.Version(), newer)
	}
	if got := next(t, sub); !got.Budget().CurrentSpending.Equal(decimal.NewFromInt(15)) {
		t.Errorf("subscriber got spending %v, want 15", got.Budget().CurrentSpending)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() after dropped snapshot error = %v, want DeadlineExceeded", err)
	}
}
