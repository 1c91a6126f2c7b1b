// Package join implements the Projection-Join Monitor of spec.md §4.G:
// askJoin commits a command's events as normal, then waits for a named
// projection to have folded all of them before returning, so a caller
// can read its own write back out of the projection it just triggered.
package join

import (
	"context"
	"time"

	"github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/projection"
)

// EventFilter narrows which of a command's committed events askJoin
// actually waits on (spec.md §4.G step 3). It never narrows what was
// committed — every produced event is appended and folded into the
// aggregate's state regardless of filter; filter only decides which of
// those already-committed events the monitor blocks on.
type EventFilter struct {
	limit int // 0 means no limit: watch every event.
}

// AllEvents watches every event the command produced. It is the default
// when no filter is supplied.
func AllEvents() EventFilter { return EventFilter{} }

// Limit watches only the first n events of the command's result,
// per spec.md §9's open question: later events from the same command
// are still committed, just not awaited.
func Limit(n int) EventFilter { return EventFilter{limit: n} }

// apply narrows events to the ones this filter watches.
func (f EventFilter) apply(events []domain.Event) []domain.Event {
	if f.limit <= 0 || f.limit >= len(events) {
		return events
	}
	return events[:f.limit]
}

// Monitor polls a projection.Runtime's cursor for a set of events,
// grounded on the retrieval pack's poll-until-condition waiter shape.
type Monitor struct {
	runtime      *projection.Runtime
	pollInterval time.Duration
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval overrides the default 10ms poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) { m.pollInterval = d }
}

// New creates a Monitor watching runtime's projections.
func New(runtime *projection.Runtime, opts ...Option) *Monitor {
	m := &Monitor{runtime: runtime, pollInterval: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AwaitAll watches every event (AllEvents()); see Await.
func (m *Monitor) AwaitAll(ctx context.Context, projectionName string, events []domain.Event, timeout time.Duration) error {
	return m.Await(ctx, projectionName, events, AllEvents(), timeout)
}

// Await blocks until projectionName has folded every event filter
// selects out of events, or until timeout elapses, or until the
// projection is declared stalled — whichever happens first. events are
// committed already by the time Await is called (spec.md §4.G step 6:
// "the write already happened"), so every error path wraps the full,
// unfiltered events in a domain.ProjectionJoinError rather than
// discarding them — filter narrows what is waited on, never what was
// committed (spec.md §9).
func (m *Monitor) Await(ctx context.Context, projectionName string, events []domain.Event, filter EventFilter, timeout time.Duration) error {
	watched := filter.apply(events)
	if len(watched) == 0 {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	check := func() (bool, error) {
		for _, ev := range watched {
			seen, err := m.runtime.HasProcessed(projectionName, ev.ID)
			if err != nil {
				return false, err
			}
			if !seen {
				return false, nil
			}
		}
		return true, nil
	}

	if done, err := check(); err != nil {
		return domain.NewProjectionJoinError(events, err)
	} else if done {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return domain.NewProjectionJoinError(events, ctx.Err())
		case <-deadline.C:
			return domain.NewProjectionJoinError(events, domain.ErrTimeout)
		case <-ticker.C:
			done, err := check()
			if err != nil {
				return domain.NewProjectionJoinError(events, err)
			}
			if done {
				return nil
			}
		}
	}
}
