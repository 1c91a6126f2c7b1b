package behavior

import "context"

type resultKind int

const (
	kindEvents resultKind = iota
	kindReject
	kindAsync
)

// Result is the tagged union spec.md §4.B describes as
// {One(Event), Many(seq<Event>), Async(Future<...>), Reject(Error)}. The
// engine normalises every variant to a single
// `func(context.Context) ([]Ev, error)` shape by calling Resolve — no
// variant gets implicit conversions or special-cased handling beyond
// that one switch.
type Result[Ev any] struct {
	kind   resultKind
	events []Ev
	err    error
	future func(context.Context) ([]Ev, error)
}

// One wraps a single produced event.
func One[Ev any](e Ev) Result[Ev] {
	return Result[Ev]{kind: kindEvents, events: []Ev{e}}
}

// Many wraps a non-empty sequence of produced events. Per invariant 2 in
// spec.md §3, a command that is accepted must produce at least one
// event; Many does not itself enforce that (an empty slice folds back
// to "accepted with zero events"), so behavior authors who mean to
// reject should call Reject explicitly rather than return Many(nil).
func Many[Ev any](events []Ev) Result[Ev] {
	return Result[Ev]{kind: kindEvents, events: events}
}

// Reject rejects the command with the given reason. No events are
// produced and the aggregate's state is left untouched (P3).
func Reject[Ev any](reason error) Result[Ev] {
	return Result[Ev]{kind: kindReject, err: reason}
}

// Async wraps a handler whose result isn't known synchronously — for
// example one that needs to call out to another service before it can
// decide whether to accept a command. fn receives the context the
// engine was invoked with so it can honour cancellation/timeouts.
func Async[Ev any](fn func(context.Context) ([]Ev, error)) Result[Ev] {
	return Result[Ev]{kind: kindAsync, future: fn}
}

// Resolve normalises the tagged union to the Future<seq<Event>> shape
// the engine consumes uniformly, regardless of which constructor built
// the Result.
func (r Result[Ev]) Resolve(ctx context.Context) ([]Ev, error) {
	switch r.kind {
	case kindReject:
		return nil, r.err
	case kindAsync:
		return r.future(ctx)
	default:
		return r.events, nil
	}
}
