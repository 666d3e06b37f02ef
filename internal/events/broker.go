// Package events publishes immutable ledger snapshots to subscribers.
//
// A subscriber receives the latest snapshot of its owner (if any) and then
// every later snapshot in publish order. Each subscription owns an unbounded
// queue, so a slow reader never blocks the publisher.
//
// Snapshots may carry a version reserved with NextVersion before their data
// was read. A versioned snapshot older than the owner's latest is dropped, so
// the latest never goes back in time.
package events

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"smartspend/internal/core"
)

// ErrClosed is returned by Next after the subscription or broker is closed.
var ErrClosed = errors.New("subscription closed")

// Snapshot is a read-only view of an owner's entries and the budget of one
// period, taken right after a successful mutation.
type Snapshot struct {
	seq     uint64
	version uint64
	at      time.Time
	owner   string
	period  core.PeriodKey
	entries []core.Entry
	budget  *core.Budget
}

// NewSnapshot copies entries and budget so later changes by the caller are not visible.
func NewSnapshot(owner string, period core.PeriodKey, entries []core.Entry, budget *core.Budget) Snapshot {
	s := Snapshot{
		owner:   owner,
		period:  period,
		entries: append([]core.Entry(nil), entries...),
	}
	if budget != nil {
		b := *budget
		s.budget = &b
	}
	return s
}

// WithVersion returns a copy of s carrying version.
func (s Snapshot) WithVersion(version uint64) Snapshot {
	s.version = version
	return s
}

func (s Snapshot) Seq() uint64            { return s.seq }
func (s Snapshot) Version() uint64        { return s.version }
func (s Snapshot) At() time.Time          { return s.at }
func (s Snapshot) Owner() string          { return s.owner }
func (s Snapshot) Period() core.PeriodKey { return s.period }
func (s Snapshot) IsZero() bool           { return s.seq == 0 }

// Entries returns a copy of the entries, newest first.
func (s Snapshot) Entries() []core.Entry {
	return append([]core.Entry(nil), s.entries...)
}

// Budget returns a copy of the budget, or nil when the period has none.
func (s Snapshot) Budget() *core.Budget {
	if s.budget == nil {
		return nil
	}
	b := *s.budget
	return &b
}

type Broker struct {
	mu      sync.Mutex
	seq     uint64
	version uint64
	latest map[string]Snapshot
	subs   map[*Subscription]struct{}
	closed bool
	now    func() time.Time
}

func NewBroker() *Broker {
	return &Broker{
		latest: make(map[string]Snapshot),
		subs:   make(map[*Subscription]struct{}),
		now:    time.Now,
	}
}

// NextVersion reserves a snapshot version. Reserve it before reading the data
// the snapshot will carry.
func (b *Broker) NextVersion() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version++
	return b.version
}

// Publish stamps the snapshot with a sequence number and fans it out.
// It returns the stamped snapshot, or the zero Snapshot when the snapshot is
// older than the owner's latest or the broker is closed.
func (b *Broker) Publish(s Snapshot) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Snapshot{}
	}
	if prev, ok := b.latest[s.owner]; ok && s.version != 0 && prev.version > s.version {
		return Snapshot{}
	}
	b.seq++
	s.seq = b.seq
	s.at = b.now()
	b.latest[s.owner] = s
	for sub := range b.subs {
		if sub.owner == "" || sub.owner == s.owner {
			sub.push(s)
		}
	}
	return s
}

// Latest returns the most recent snapshot of owner.
func (b *Broker) Latest(owner string) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.latest[owner]
	return s, ok
}

// Subscribe follows owner's snapshots, or every owner's when owner is empty.
func (b *Broker) Subscribe(owner string) *Subscription {
	sub := &Subscription{
		broker: b,
		owner:  owner,
		signal: make(chan struct{}, 1),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		return sub
	}
	if owner != "" {
		if s, ok := b.latest[owner]; ok {
			sub.push(s)
		}
	} else {
		for _, s := range b.latestInOrder() {
			sub.push(s)
		}
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Broker) latestInOrder() []Snapshot {
	out := make([]Snapshot, 0, len(b.latest))
	for _, s := range b.latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Subscribers reports the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Further publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		sub.close()
	}
	b.subs = make(map[*Subscription]struct{})
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

type Subscription struct {
	broker *Broker
	owner  string

	mu     sync.Mutex
	queue  []Snapshot
	closed bool
	signal chan struct{}
}

func (s *Subscription) push(snap Snapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, snap)
	s.mu.Unlock()
	s.notify()
}

func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

// Next blocks until a snapshot is queued, ctx ends or the subscription closes.
// Queued snapshots are still delivered after Close of the broker.
func (s *Subscription) Next(ctx context.Context) (Snapshot, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			snap := s.queue[0]
			s.queue[0] = Snapshot{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return snap, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Snapshot{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Close detaches the subscription from the broker.
func (s *Subscription) Close() {
	s.broker.remove(s)
	s.close()
}
