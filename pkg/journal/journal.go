// Package journal defines the append-only, per-aggregate-id event log
// the core consumes (spec.md §4.C). It is an interface only — concrete
// persistence lives in pkg/memjournal (the required in-memory reference
// backend, component H) and pkg/natsjournal (an alternate subscribe
// feed, see SPEC_FULL.md).
package journal

import (
	"context"

	"github.com/cqrskit/core/pkg/domain"
)

// Ack confirms an Append call committed. Position is a journal-local,
// monotonically increasing counter useful for batch replay (see
// LoadAll); it carries no meaning across journal implementations.
type Ack struct {
	Position int64
}

// TagFilter narrows a Subscribe feed to events carrying at least one of
// the listed tags. An empty/zero-value TagFilter matches every event.
type TagFilter struct {
	Tags []string
}

// Matches reports whether ev satisfies the filter.
func (f TagFilter) Matches(ev domain.Event) bool {
	if len(f.Tags) == 0 {
		return true
	}
	for _, tag := range f.Tags {
		if ev.HasTag(tag) {
			return true
		}
	}
	return false
}

// Journal is the append-only per-aggregate-id event log spec.md §4.C
// requires: per-id append order is preserved on both Load and the
// Subscribe feed; no event is lost once Append's Ack is observed;
// duplicate delivery on Subscribe is permitted (projections are
// expected to be idempotent by event id, spec.md §3 invariant 5).
type Journal interface {
	// Append atomically appends events to aggregateID's stream. It is
	// the caller's (pkg/aggregate.Manager's) job to guarantee only one
	// Append is ever in flight per aggregate id at a time; Journal
	// implementations are not required to serialize concurrent Appends
	// to the same id beyond what that single-writer guarantee already
	// provides.
	Append(ctx context.Context, aggregateID string, events []domain.Event) (Ack, error)

	// Load replays aggregateID's events in append order, starting after
	// afterSequence (0 to load the whole stream).
	Load(ctx context.Context, aggregateID string, afterSequence int64) ([]domain.Event, error)

	// Subscribe delivers events matching filter as they are appended,
	// at-least-once. The returned channel is closed when ctx is
	// cancelled.
	Subscribe(ctx context.Context, filter TagFilter) (<-chan domain.Event, error)

	// LoadAll replays events across every aggregate id, in the order
	// they were appended to this journal instance, for projection
	// rebuilds (see pkg/projection.Runtime.Rebuild). fromPosition is the
	// Ack.Position to resume after; limit bounds the batch size (0 means
	// no limit).
	LoadAll(ctx context.Context, fromPosition int64, limit int) ([]domain.Event, error)

	// Close releases resources held by the journal.
	Close() error
}
