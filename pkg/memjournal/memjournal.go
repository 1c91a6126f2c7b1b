// Package memjournal is the in-memory reference implementation of
// journal.Journal (spec.md §4.H, component H): a per-aggregate-id
// ordered event vector plus a fan-out multicaster that delivers newly
// appended events to every live subscriber in append order. It is the
// default backend and the one the test suite is built against.
package memjournal

import (
	"context"
	"fmt"
	"sync"

	"github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/journal"
)

// Journal is a concurrency-safe, process-local journal.Journal.
// Operations for different aggregate ids never contend on a shared
// stream-level lock beyond the single mutex guarding the top-level maps;
// the mutex is held only long enough to copy or append a slice.
type Journal struct {
	mu       sync.Mutex
	streams  map[string][]domain.Event // per-aggregate ordered log
	all      []domain.Event            // global append order, for LoadAll
	subs     map[*subscription]struct{}
	closed   bool
}

// New creates an empty in-memory journal.
func New() *Journal {
	return &Journal{
		streams: make(map[string][]domain.Event),
		subs:    make(map[*subscription]struct{}),
	}
}

// subscription is one Subscribe call's delivery pipe. Append never sends
// on sub.ch directly: it only appends to queue and wakes pump, so a
// subscriber that stops draining ch backs up only its own queue —
// never Append itself, and never any other subscriber (spec.md §5/§7:
// "projection stalls are isolated per projection ... must not block
// writes or other projections"). pump is also the only goroutine that
// ever sends on or closes ch, which is what makes shutdown race-free:
// enqueue refuses to add to queue once closed is set, and closed is
// only ever set (by shutdown) and read (by pump) under mu, so pump can
// never observe an empty, closed queue and then race a late enqueue.
type subscription struct {
	filter journal.TagFilter
	ch     chan domain.Event

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []domain.Event
	closed bool
}

func newSubscription(filter journal.TagFilter) *subscription {
	s := &subscription{filter: filter, ch: make(chan domain.Event)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// enqueue appends ev to s's unbounded backlog and wakes pump. A no-op
// once s is shutting down.
func (s *subscription) enqueue(ev domain.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.cond.Signal()
}

// pump drains s.queue into s.ch in order, blocking on the send only
// when the subscriber itself is slow to receive — which stalls this
// subscription alone. Once shutdown has been called and the backlog is
// empty, pump closes s.ch and returns.
func (s *subscription) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.ch <- ev
	}
}

// shutdown marks s closed and wakes pump so it drains any remaining
// backlog and closes s.ch itself.
func (s *subscription) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Append implements journal.Journal. Per-aggregate append order is
// simply slice-append order; the caller (pkg/aggregate.Manager) is
// already the single writer for aggregateID, so no optimistic
// concurrency check is required here — unlike a shared, multi-writer
// store, this journal is never handed two concurrent Appends for the
// same id.
func (j *Journal) Append(ctx context.Context, aggregateID string, events []domain.Event) (journal.Ack, error) {
	if len(events) == 0 {
		return journal.Ack{}, nil
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return journal.Ack{}, fmt.Errorf("%w: journal closed", domain.ErrJournalFailure)
	}

	j.streams[aggregateID] = append(j.streams[aggregateID], events...)
	j.all = append(j.all, events...)
	position := int64(len(j.all))

	subs := make([]*subscription, 0, len(j.subs))
	for s := range j.subs {
		subs = append(subs, s)
	}
	j.mu.Unlock()

	// Handing events to subscribers never waits on a subscriber's own
	// pace: enqueue only ever appends to that subscription's backlog.
	for _, s := range subs {
		for _, ev := range events {
			if s.filter.Matches(ev) {
				s.enqueue(ev)
			}
		}
	}

	return journal.Ack{Position: position}, nil
}

// Load implements journal.Journal.
func (j *Journal) Load(ctx context.Context, aggregateID string, afterSequence int64) ([]domain.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	stream := j.streams[aggregateID]
	out := make([]domain.Event, 0, len(stream))
	for _, ev := range stream {
		if ev.Sequence > afterSequence {
			out = append(out, ev)
		}
	}
	return out, nil
}

// LoadAll implements journal.Journal.
func (j *Journal) LoadAll(ctx context.Context, fromPosition int64, limit int) ([]domain.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if fromPosition < 0 {
		fromPosition = 0
	}
	if fromPosition >= int64(len(j.all)) {
		return nil, nil
	}

	remaining := j.all[fromPosition:]
	if limit > 0 && len(remaining) > limit {
		remaining = remaining[:limit]
	}

	out := make([]domain.Event, len(remaining))
	copy(out, remaining)
	return out, nil
}

// Subscribe implements journal.Journal. The returned channel is closed
// once ctx is cancelled, after pump has drained whatever was already
// queued for this subscriber.
func (j *Journal) Subscribe(ctx context.Context, filter journal.TagFilter) (<-chan domain.Event, error) {
	sub := newSubscription(filter)

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil, fmt.Errorf("%w: journal closed", domain.ErrJournalFailure)
	}
	j.subs[sub] = struct{}{}
	j.mu.Unlock()

	go sub.pump()
	go func() {
		<-ctx.Done()
		j.mu.Lock()
		delete(j.subs, sub)
		j.mu.Unlock()
		sub.shutdown()
	}()

	return sub.ch, nil
}

// Close releases the journal. Subscribers are left to drain and close
// via their own ctx cancellation.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}
