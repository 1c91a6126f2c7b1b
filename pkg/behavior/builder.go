package behavior

// Pending and Defined are phantom markers on Builder's two phase type
// parameters. They carry no data and are never instantiated; they exist
// purely so the compiler can tell a Builder that has only seen
// WhenConstructing from one that has seen both phases. This is the
// statically-typed phantom type-state spec.md §4.B and §9 ask for: it
// replaces a runtime "was build() called before both phases were
// supplied?" check with a type that Build simply does not accept until
// both phases are Defined.
type Pending struct{}
type Defined struct{}

// Builder assembles a Behavior[S, C, Ev] through two named phases,
// construction and update, each independently tracked by a phantom type
// parameter (CP, UP). S is the aggregate's state type, C the command
// type(s) it accepts (typically a small closed interface the domain
// package declares), Ev the event type(s) it produces.
type Builder[S, C, Ev any, CP, UP any] struct {
	creationCmd []creationCmdClause[C, Ev]
	creationEvt []creationEvtClause[Ev, S]
	updateCmd   []updateCmdClause[S, C, Ev]
	updateEvt   []updateEvtClause[S, Ev]
}

// New starts a Behavior builder with neither phase defined yet.
func New[S, C, Ev any]() Builder[S, C, Ev, Pending, Pending] {
	return Builder[S, C, Ev, Pending, Pending]{}
}

// ConstructionBuilder collects the clauses for the construction phase:
// how a creation command becomes a creation event, and how that event
// becomes the initial state.
type ConstructionBuilder[S, C, Ev any] struct {
	cmd []creationCmdClause[C, Ev]
	evt []creationEvtClause[Ev, S]
}

// HandleCommand registers a creation command clause. Clauses are tried
// in registration order; the first whose match predicate returns true
// wins (spec.md §4.B "Ordering of clauses").
func (b *ConstructionBuilder[S, C, Ev]) HandleCommand(match func(C) bool, handle CreationCommandHandler[C, Ev]) *ConstructionBuilder[S, C, Ev] {
	b.cmd = append(b.cmd, creationCmdClause[C, Ev]{match: match, handle: handle})
	return b
}

// HandleEvent registers how a creation event is folded into the
// aggregate's initial state.
func (b *ConstructionBuilder[S, C, Ev]) HandleEvent(match func(Ev) bool, apply CreationEventHandler[Ev, S]) *ConstructionBuilder[S, C, Ev] {
	b.evt = append(b.evt, creationEvtClause[Ev, S]{match: match, apply: apply})
	return b
}

// UpdateBuilder collects the clauses for the update phase: how a
// command evolves an existing aggregate, and how an event evolves its
// state.
type UpdateBuilder[S, C, Ev any] struct {
	cmd []updateCmdClause[S, C, Ev]
	evt []updateEvtClause[S, Ev]
}

// HandleCommand registers an update command clause.
func (b *UpdateBuilder[S, C, Ev]) HandleCommand(match func(C) bool, handle UpdateCommandHandler[S, C, Ev]) *UpdateBuilder[S, C, Ev] {
	b.cmd = append(b.cmd, updateCmdClause[S, C, Ev]{match: match, handle: handle})
	return b
}

// HandleEvent registers how an event evolves existing state.
func (b *UpdateBuilder[S, C, Ev]) HandleEvent(match func(Ev) bool, apply UpdateEventHandler[S, Ev]) *UpdateBuilder[S, C, Ev] {
	b.evt = append(b.evt, updateEvtClause[S, Ev]{match: match, apply: apply})
	return b
}

// WhenConstructing supplies the construction phase. It is a free
// function, not a method, precisely so it can be generic over the as-yet
// undefined update phase UP while pinning the construction phase's
// input to Pending and its output to Defined — a method on Builder
// itself would have to be defined identically for every UP and CP
// instantiation and couldn't express "only callable when CP is
// Pending".
func WhenConstructing[S, C, Ev, UP any](b Builder[S, C, Ev, Pending, UP], configure func(*ConstructionBuilder[S, C, Ev])) Builder[S, C, Ev, Defined, UP] {
	cb := &ConstructionBuilder[S, C, Ev]{}
	configure(cb)
	return Builder[S, C, Ev, Defined, UP]{
		creationCmd: cb.cmd,
		creationEvt: cb.evt,
		updateCmd:   b.updateCmd,
		updateEvt:   b.updateEvt,
	}
}

// WhenUpdating supplies the update phase, symmetric to WhenConstructing.
func WhenUpdating[S, C, Ev, CP any](b Builder[S, C, Ev, CP, Pending], configure func(*UpdateBuilder[S, C, Ev])) Builder[S, C, Ev, CP, Defined] {
	ub := &UpdateBuilder[S, C, Ev]{}
	configure(ub)
	return Builder[S, C, Ev, CP, Defined]{
		creationCmd: b.creationCmd,
		creationEvt: b.creationEvt,
		updateCmd:   ub.cmd,
		updateEvt:   ub.evt,
	}
}

// Build finalises a Behavior. It only typechecks against a
// Builder[S, C, Ev, Defined, Defined] — a Behavior that skipped either
// WhenConstructing or WhenUpdating is a compile error here, not a
// runtime one. This is the phantom-type-state enforcement spec.md §4.B
// calls for: "Attempting to route a command through an unfinished
// behavior is a programmer error (fatal)" becomes, in this Go
// implementation, a behavior that simply cannot be built.
func Build[S, C, Ev any](b Builder[S, C, Ev, Defined, Defined]) *Behavior[S, C, Ev] {
	return &Behavior[S, C, Ev]{
		creationCmd: b.creationCmd,
		creationEvt: b.creationEvt,
		updateCmd:   b.updateCmd,
		updateEvt:   b.updateEvt,
	}
}
