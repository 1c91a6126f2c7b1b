// Package aggregate implements components D and E of the spec: the
// Aggregate Instance that folds events into current state, and the
// Aggregate Manager that gives each aggregate id a single-writer mailbox
// on top of a journal.Journal.
package aggregate

import (
	"context"
	"fmt"

	"github.com/cqrskit/core/pkg/behavior"
	"github.com/cqrskit/core/pkg/domain"
)

// Instance holds one aggregate's current state (or absence thereof) and
// the sequence number of the last event applied to it (spec.md §4.D).
// It is not safe for concurrent use — callers (pkg/aggregate.Manager's
// per-id worker) are expected to already be single-writer over it.
type Instance[S, C, Ev any] struct {
	behavior *behavior.Behavior[S, C, Ev]
	exists   bool
	state    S
	sequence int64
}

// NewInstance creates an empty (absent) Instance bound to behavior.
func NewInstance[S, C, Ev any](b *behavior.Behavior[S, C, Ev]) *Instance[S, C, Ev] {
	return &Instance[S, C, Ev]{behavior: b}
}

// Exists reports whether a creation event has been applied.
func (i *Instance[S, C, Ev]) Exists() bool { return i.exists }

// State returns the current folded state and whether it exists.
func (i *Instance[S, C, Ev]) State() (S, bool) { return i.state, i.exists }

// Sequence returns the sequence number of the last applied event.
func (i *Instance[S, C, Ev]) Sequence() int64 { return i.sequence }

// ApplyEvent folds a single already-committed domain.Event into the
// instance, asserting the monotonic, gap-free sequence invariant
// (spec.md §3 invariant 5 / §8 P5). ev.Payload must be an Ev; a payload
// of any other type is a programming error upstream (the journal only
// ever holds what this aggregate type itself appended) and is rejected
// rather than silently ignored, unlike an unmatched event *type within*
// Ev, which is an ordinary "no clause matched" fold no-op.
func (i *Instance[S, C, Ev]) ApplyEvent(ev domain.Event) error {
	if ev.Sequence != i.sequence+1 {
		return fmt.Errorf("%w: aggregate %s expected sequence %d, got %d",
			domain.ErrNonMonotonicSequence, ev.AggregateID, i.sequence+1, ev.Sequence)
	}

	payload, ok := ev.Payload.(Ev)
	if !ok {
		return fmt.Errorf("%w: event %s payload is %T, not %T", domain.ErrJournalFailure, ev.ID, ev.Payload, *new(Ev))
	}

	if !i.exists {
		state, matched := i.behavior.ApplyCreation(payload)
		if matched {
			i.state = state
			i.exists = true
		}
		// An unmatched first event leaves the instance absent; the next
		// event (if any) will be tried again by ApplyCreation until one
		// matches, or the stream simply never produces a live aggregate.
	} else {
		i.state = i.behavior.ApplyUpdate(i.state, payload)
	}

	i.sequence = ev.Sequence
	return nil
}

// HandleCommand dispatches cmd to the construction phase if the
// instance is absent, or the update phase if it already exists (spec.md
// §4.D "selects creation vs update based on current state").
func (i *Instance[S, C, Ev]) HandleCommand(ctx context.Context, cmd C) behavior.Result[Ev] {
	if !i.exists {
		return i.behavior.HandleCreation(ctx, cmd)
	}
	return i.behavior.HandleUpdate(ctx, i.state, cmd)
}
