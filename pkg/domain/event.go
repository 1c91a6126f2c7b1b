package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Event is an immutable fact: it already happened. Every event carries
// the metadata §3 of the spec requires; Payload is the domain-specific
// value a Behavior's event handlers pattern-match on (see pkg/behavior).
//
// Payload is deliberately an `any`, not a serialized byte slice: the
// core mandates no wire format (out of scope is concrete transport and
// disk persistence of events), so the reference in-memory journal holds
// live Go values. A journal implementation that does need to cross a
// process boundary — pkg/natsjournal, for example — is responsible for
// its own (de)serialization of Payload at its edges.
type Event struct {
	ID            EventID
	AggregateID   string
	AggregateType string
	EventType     string
	Sequence      int64
	Timestamp     time.Time
	CommandID     CommandID
	Tags          map[string]struct{}
	Payload       any
}

// HasTag reports whether the event carries the given tag.
func (e Event) HasTag(tag string) bool {
	_, ok := e.Tags[tag]
	return ok
}

// EventMetadata is the subset of Event fields behavior authors and
// Aggregate Instances need to stamp onto a newly produced event; it is
// computed from the command that caused the event plus the aggregate's
// own bookkeeping. pkg/aggregate.Manager sets these same fields directly
// on each domain.Event it stamps; nothing in this module builds an
// EventMetadata value.
type EventMetadata struct {
	AggregateID   string
	AggregateType string
	CommandID     CommandID
	Sequence      int64
	Timestamp     time.Time
	Tags          map[string]struct{}
}

// GenerateDeterministicEventID derives a stable event id from the
// command that produced it, the target aggregate and the event's
// sequence number in that aggregate's stream. Replaying the exact same
// command against the exact same aggregate at the same stream position
// therefore always yields the exact same event ids — the basis for
// idempotent re-delivery and
// for command-level deduplication at the journal boundary.
func GenerateDeterministicEventID(commandID CommandID, aggregateID string, sequence int) EventID {
	h := sha256.New()
	h.Write([]byte(fmt.Sprintf("%s:%s:%d", commandID, aggregateID, sequence)))
	return EventID(hex.EncodeToString(h.Sum(nil))[:32])
}
