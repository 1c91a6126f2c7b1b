package behavior_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqrskit/core/pkg/behavior"
)

type state struct{ count int }
type command interface{ isCommand() }
type event interface{ isEvent() }

type incCmd struct{ by int }

func (incCmd) isCommand() {}

type negativeCmd struct{}

func (negativeCmd) isCommand() {}

type incremented struct{ by int }

func (incremented) isEvent() {}

// renamed is never registered against the update phase's event clauses,
// so folding it must be a no-op rather than an error.
type renamed struct{}

func (renamed) isEvent() {}

func newCounterBehavior() *behavior.Behavior[state, command, event] {
	b := behavior.New[state, command, event]()

	b = behavior.WhenConstructing(b, func(cb *behavior.ConstructionBuilder[state, command, event]) {
		cb.HandleCommand(
			behavior.OfType[incCmd, command](),
			func(ctx context.Context, cmd command) behavior.Result[event] {
				return behavior.One[event](incremented{by: cmd.(incCmd).by})
			},
		).HandleEvent(
			behavior.OfType[incremented, event](),
			func(ev event) state { return state{count: ev.(incremented).by} },
		)
	})

	b = behavior.WhenUpdating(b, func(ub *behavior.UpdateBuilder[state, command, event]) {
		ub.HandleCommand(
			behavior.OfType[negativeCmd, command](),
			func(ctx context.Context, s state, cmd command) behavior.Result[event] {
				return behavior.Reject[event](errors.New("negative not allowed"))
			},
		)
		ub.HandleCommand(
			behavior.OfType[incCmd, command](),
			func(ctx context.Context, s state, cmd command) behavior.Result[event] {
				return behavior.One[event](incremented{by: cmd.(incCmd).by})
			},
		).HandleEvent(
			behavior.OfType[incremented, event](),
			func(s state, ev event) state { s.count += ev.(incremented).by; return s },
		)
	})

	return behavior.Build(b)
}

func TestBehavior_CreationThenUpdateFold(t *testing.T) {
	b := newCounterBehavior()
	ctx := context.Background()

	events, err := b.HandleCreation(ctx, incCmd{by: 5}).Resolve(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)

	s, ok := b.ApplyCreation(events[0])
	require.True(t, ok)
	assert.Equal(t, 5, s.count)

	events, err = b.HandleUpdate(ctx, s, incCmd{by: 3}).Resolve(ctx)
	require.NoError(t, err)
	s = b.ApplyUpdate(s, events[0])
	assert.Equal(t, 8, s.count)
}

func TestBehavior_RejectLeavesNoEvents(t *testing.T) {
	b := newCounterBehavior()
	ctx := context.Background()

	events, err := b.HandleUpdate(ctx, state{count: 1}, negativeCmd{}).Resolve(ctx)
	assert.Error(t, err)
	assert.Empty(t, events)
}

func TestBehavior_FallbackRejectsUnmatchedCommand(t *testing.T) {
	b := newCounterBehavior()
	ctx := context.Background()

	_, err := b.HandleCreation(ctx, negativeCmd{}).Resolve(ctx)
	assert.ErrorIs(t, err, behavior.ErrNoCreationClause)
}

func TestBehavior_UnmatchedEventIsANoOpFold(t *testing.T) {
	b := newCounterBehavior()
	s := state{count: 42}
	next := b.ApplyUpdate(s, renamed{})

	assert.Equal(t, s, next)
}

func TestResult_AsyncResolvesViaFuture(t *testing.T) {
	ctx := context.Background()
	r := behavior.Async[event](func(ctx context.Context) ([]event, error) {
		return []event{incremented{by: 1}}, nil
	})

	events, err := r.Resolve(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, incremented{by: 1}, events[0])
}
