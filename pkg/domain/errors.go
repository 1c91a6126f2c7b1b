package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced on submit/ask/askJoin/state/exists (§6, §7 of
// the spec). Validation and not-found are ordinary, expected outcomes —
// callers are meant to test against these with errors.Is — while
// JournalFailure and the programming-error class are meant to be loud.
var (
	// ErrNotFound is returned by state()/exists() queries and by a
	// command addressed to an aggregate that does not exist when no
	// creation clause accepts it.
	ErrNotFound = errors.New("aggregate not found")

	// ErrInvalidCommand is returned when the aggregate exists and no
	// update-phase clause of its Behavior matches the incoming command —
	// the framework-supplied fallback rejection described in spec.md
	// §4.B. An absent aggregate whose creation clauses all miss yields
	// ErrNotFound instead.
	ErrInvalidCommand = errors.New("invalid command: no matching behavior clause")

	// ErrJournalFailure wraps a storage-level error encountered while
	// appending or loading events. It is always wrapped with %w around
	// the underlying cause, never returned bare.
	ErrJournalFailure = errors.New("journal failure")

	// ErrTimeout is returned to a caller whose ask/askJoin deadline
	// elapsed before the operation completed. It never implies the
	// underlying command or projection join actually failed.
	ErrTimeout = errors.New("timeout")

	// ErrStalledProjection is returned by askJoin when the named
	// projection has exceeded its retry budget and stopped advancing.
	ErrStalledProjection = errors.New("projection stalled")

	// ErrBehaviorIncomplete is a programming error: code tried to route
	// a command through a Behavior before both whenConstructing and
	// whenUpdating were supplied. In this Go implementation the phantom
	// type-state on behavior.Builder makes this unreachable at compile
	// time for any Behavior assembled with the builder, and no code in
	// this module returns it: a zero-value behavior.Behavior rejects every
	// command through the no-clause fallback instead.
	ErrBehaviorIncomplete = errors.New("behavior built without both construction and update phases")

	// ErrNonMonotonicSequence is a programming error: an event arrived
	// out of order for its aggregate id (§3 invariant 4, §4.D).
	ErrNonMonotonicSequence = errors.New("non-monotonic event sequence")
)

// RejectedError is returned when a command is deliberately rejected by a
// behavior's Reject() clause (spec.md §4.B "Result form"). It carries
// the aggregate id, when known, so callers can distinguish "this
// specific aggregate refused the command" from ErrInvalidCommand's
// "nothing recognized this command shape at all".
type RejectedError struct {
	AggregateID string
	Reason      error
}

func (e *RejectedError) Error() string {
	if e.AggregateID != "" {
		return fmt.Sprintf("command rejected for aggregate %s: %v", e.AggregateID, e.Reason)
	}
	return fmt.Sprintf("command rejected: %v", e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Reason }

// NewRejectedError wraps a behavior-supplied rejection reason.
func NewRejectedError(aggregateID string, reason error) error {
	return &RejectedError{AggregateID: aggregateID, Reason: reason}
}

// ProjectionJoinError is returned by askJoin when the monitor times out
// or the joined projection is stalled. It carries the events the
// command actually committed, per spec.md §4.G step 6 and §7.5: the
// write succeeded even though the read-side join did not.
type ProjectionJoinError struct {
	Events []Event
	Cause  error
}

func (e *ProjectionJoinError) Error() string {
	return fmt.Sprintf("projection join failed after commit of %d event(s): %v", len(e.Events), e.Cause)
}

func (e *ProjectionJoinError) Unwrap() error { return e.Cause }

// NewProjectionJoinError wraps a join failure together with the events
// that were nonetheless committed.
func NewProjectionJoinError(events []Event, cause error) error {
	return &ProjectionJoinError{Events: events, Cause: cause}
}
