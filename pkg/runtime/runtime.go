// Package runtime assembles the Aggregate Manager, Journal, Projection
// Runtime and Projection-Join Monitor into the single facade spec.md §6
// exposes to callers: submit, ask, askJoin, state and exists. It does
// not itself implement any of those components — see pkg/aggregate,
// pkg/journal, pkg/projection and pkg/join — it only wires them
// together the way the teacher's runner.Runner wires independently
// constructed services into one lifecycle.
package runtime

import (
	"context"
	"time"

	"github.com/cqrskit/core/pkg/aggregate"
	"github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/join"
	"github.com/cqrskit/core/pkg/journal"
	"github.com/cqrskit/core/pkg/projection"
)

// Runtime is a single aggregate type's public surface: one Manager over
// one Journal, plus the projection machinery that reads back what it
// writes.
type Runtime[ID domain.AggregateID, S, C domain.Command, Ev any] struct {
	Journal     journal.Journal
	Manager     *aggregate.Manager[ID, S, C, Ev]
	Projections *projection.Runtime
	Monitor     *join.Monitor

	askTimeout time.Duration
}

// Option configures a Runtime.
type Option[ID domain.AggregateID, S, C domain.Command, Ev any] func(*Runtime[ID, S, C, Ev])

// WithAskTimeout overrides the default 5s timeout used by Ask/AskJoin.
// It applies alongside any deadline on the caller's context; whichever
// expires first ends the wait.
func WithAskTimeout[ID domain.AggregateID, S, C domain.Command, Ev any](d time.Duration) Option[ID, S, C, Ev] {
	return func(r *Runtime[ID, S, C, Ev]) { r.askTimeout = d }
}

// New assembles a Runtime. j and manager must agree on the same
// underlying journal; projections and monitor are optional (nil is
// valid) for applications that only need submit/ask/state/exists.
func New[ID domain.AggregateID, S, C domain.Command, Ev any](
	j journal.Journal,
	manager *aggregate.Manager[ID, S, C, Ev],
	projections *projection.Runtime,
	monitor *join.Monitor,
	opts ...Option[ID, S, C, Ev],
) *Runtime[ID, S, C, Ev] {
	r := &Runtime[ID, S, C, Ev]{
		Journal:     j,
		Manager:     manager,
		Projections: projections,
		Monitor:     monitor,
		askTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit enqueues cmd for id without waiting for an outcome.
func (r *Runtime[ID, S, C, Ev]) Submit(id ID, cmd C) {
	r.Manager.Submit(id, cmd)
}

// Ask submits cmd for id and waits for the events it produced (or the
// rejection reason) up to the configured ask timeout.
func (r *Runtime[ID, S, C, Ev]) Ask(ctx context.Context, id ID, cmd C) ([]domain.Event, error) {
	return r.Manager.Ask(ctx, id, cmd, r.askTimeout)
}

// AskJoin behaves like Ask, then additionally blocks until
// projectionName has folded every event filter selects (spec.md §4.G).
// A nil filter watches every event the command produced. A successful
// command whose projection join times out or finds the projection
// stalled returns a *domain.ProjectionJoinError carrying the
// already-committed events, not a plain error — the write stands.
func (r *Runtime[ID, S, C, Ev]) AskJoin(ctx context.Context, id ID, cmd C, projectionName string, filter *join.EventFilter) ([]domain.Event, error) {
	events, err := r.Ask(ctx, id, cmd)
	if err != nil {
		return nil, err
	}
	if r.Monitor == nil || len(events) == 0 {
		return events, nil
	}
	f := join.AllEvents()
	if filter != nil {
		f = *filter
	}
	if err := r.Monitor.Await(ctx, projectionName, events, f, r.askTimeout); err != nil {
		return events, err
	}
	return events, nil
}

// State returns id's current folded state.
func (r *Runtime[ID, S, C, Ev]) State(ctx context.Context, id ID) (S, error) {
	return r.Manager.State(ctx, id)
}

// Exists reports whether id currently has a folded state.
func (r *Runtime[ID, S, C, Ev]) Exists(ctx context.Context, id ID) (bool, error) {
	return r.Manager.Exists(ctx, id)
}
