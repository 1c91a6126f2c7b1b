package domain

// Command is an inert value carrying an intent. It is deliberately
// minimal — just enough to identify itself for idempotency. Whether a
// given command is a "creation" or "update" command is never a property
// of its Go type; it is decided at dispatch time by whether the target
// aggregate currently exists (see pkg/aggregate).
type Command interface {
	// ID returns the unique identifier for this command, used for
	// causation tagging on produced events and for idempotent retries.
	ID() CommandID
}

// Envelope bundles an aggregate id with the command addressed to it, so
// routing (pkg/aggregate.Manager) never needs to reflect into the
// command value to discover where it's going.
type Envelope[ID AggregateID, C Command] struct {
	AggregateID ID
	Command     C
}

// NewEnvelope constructs an Envelope.
func NewEnvelope[ID AggregateID, C Command](id ID, cmd C) Envelope[ID, C] {
	return Envelope[ID, C]{AggregateID: id, Command: cmd}
}
