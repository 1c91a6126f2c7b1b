// Package behavior implements the behavior specification DSL: a typed
// builder that collects an aggregate's creation and update handlers
// while a phantom-state machine (see builder.go) statically prevents
// assembling an incomplete Behavior.
package behavior

import "context"

// Behavior is the pair of phased handlers spec.md §3 defines: creation
// (Command -> Result<Event>, Event -> State) and update
// ((State, Command) -> Result<seq<Event>>, (State, Event) -> State). It
// can only be obtained via Build, which only accepts a fully-configured
// Builder.
type Behavior[S, C, Ev any] struct {
	creationCmd []creationCmdClause[C, Ev]
	creationEvt []creationEvtClause[Ev, S]
	updateCmd   []updateCmdClause[S, C, Ev]
	updateEvt   []updateEvtClause[S, Ev]
}

// HandleCreation evaluates the construction-phase command clauses in
// registration order and returns the first match's Result. If nothing
// matches, the framework-supplied fallback rejects with
// ErrNoCreationClause (spec.md §4.B "Fallback").
func (b *Behavior[S, C, Ev]) HandleCreation(ctx context.Context, cmd C) Result[Ev] {
	for _, cl := range b.creationCmd {
		if cl.match(cmd) {
			return cl.handle(ctx, cmd)
		}
	}
	return Reject[Ev](ErrNoCreationClause)
}

// HandleUpdate evaluates the update-phase command clauses in
// registration order against the current state and returns the first
// match's Result, or the fallback rejection if nothing matches.
func (b *Behavior[S, C, Ev]) HandleUpdate(ctx context.Context, state S, cmd C) Result[Ev] {
	for _, cl := range b.updateCmd {
		if cl.match(cmd) {
			return cl.handle(ctx, state, cmd)
		}
	}
	return Reject[Ev](ErrNoUpdateClause)
}

// ApplyCreation folds a creation event into the aggregate's initial
// state. Unlike command handling, event folding during replay must
// never fail a missing match — events are facts that already happened,
// so an event with no matching clause is applied as a no-op and the
// zero value of S is returned. Behavior authors who need every creation
// event type covered should make that closed set enforceable at the Go
// type level (a small sum type for Ev), not rely on this fallback.
func (b *Behavior[S, C, Ev]) ApplyCreation(ev Ev) (S, bool) {
	for _, cl := range b.creationEvt {
		if cl.match(ev) {
			return cl.apply(ev), true
		}
	}
	var zero S
	return zero, false
}

// ApplyUpdate folds an event into existing state. When no clause
// matches, the state is returned unchanged (spec.md §4.B "When no
// clause matches an event during fold, the engine keeps the state
// unchanged").
func (b *Behavior[S, C, Ev]) ApplyUpdate(state S, ev Ev) S {
	for _, cl := range b.updateEvt {
		if cl.match(ev) {
			return cl.apply(state, ev)
		}
	}
	return state
}
