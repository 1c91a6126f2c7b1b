// Package projection implements the read-side half of component F in
// spec.md §4.F: a Projection consumes committed events and folds them
// into a view.Repository. Runtime subscribes every registered
// projection to a journal.Journal's live feed and can rebuild any of
// them from a full batch replay.
package projection

import (
	"context"

	"github.com/cqrskit/core/pkg/domain"
)

// Projection folds committed events into a read model.
type Projection interface {
	// Name uniquely identifies the projection: Runtime registers it
	// under this name, and pkg/join's askJoin waits on it by name.
	Name() string

	// Handle applies one event. Handlers must be idempotent: a given
	// event id may be delivered more than once (spec.md §3 invariant 5,
	// §8 P6), whether from Subscribe's at-least-once semantics or from a
	// Rebuild replaying a stream the live feed already advanced past.
	Handle(ctx context.Context, event domain.Event) error

	// Reset clears the projection's read-model state ahead of a Rebuild.
	Reset(ctx context.Context) error
}

// Cursor reports how far a projection has advanced. Nothing in this
// module implements it; pkg/join decides whether a projection has caught
// up to a given event by polling Runtime.HasProcessed.
type Cursor interface {
	// Seen reports whether eventID has already been folded.
	Seen(eventID domain.EventID) bool
}
