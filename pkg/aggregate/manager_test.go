package aggregate_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqrskit/core/pkg/aggregate"
	"github.com/cqrskit/core/pkg/behavior"
	"github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/memjournal"
)

type counterID string

func (id counterID) String() string { return string(id) }

type counterState struct{ total int }

type counterCmd struct {
	id     domain.CommandID
	amount int
	reject bool
}

func (c counterCmd) ID() domain.CommandID { return c.id }

type counterEvent struct{ amount int }

func newCounterBehavior() *behavior.Behavior[counterState, counterCmd, counterEvent] {
	b := behavior.New[counterState, counterCmd, counterEvent]()

	b = behavior.WhenConstructing(b, func(cb *behavior.ConstructionBuilder[counterState, counterCmd, counterEvent]) {
		cb.HandleCommand(
			func(counterCmd) bool { return true },
			func(ctx context.Context, cmd counterCmd) behavior.Result[counterEvent] {
				if cmd.reject {
					return behavior.Reject[counterEvent](errors.New("rejected at creation"))
				}
				return behavior.One(counterEvent{amount: cmd.amount})
			},
		).HandleEvent(
			func(counterEvent) bool { return true },
			func(ev counterEvent) counterState { return counterState{total: ev.amount} },
		)
	})

	b = behavior.WhenUpdating(b, func(ub *behavior.UpdateBuilder[counterState, counterCmd, counterEvent]) {
		ub.HandleCommand(
			func(counterCmd) bool { return true },
			func(ctx context.Context, s counterState, cmd counterCmd) behavior.Result[counterEvent] {
				if cmd.reject {
					return behavior.Reject[counterEvent](errors.New("rejected at update"))
				}
				return behavior.One(counterEvent{amount: cmd.amount})
			},
		).HandleEvent(
			func(counterEvent) bool { return true },
			func(s counterState, ev counterEvent) counterState { s.total += ev.amount; return s },
		)
	})

	return behavior.Build(b)
}

func newManager() *aggregate.Manager[counterID, counterState, counterCmd, counterEvent] {
	j := memjournal.New()
	return aggregate.New[counterID, counterState, counterCmd, counterEvent]("counter", j, newCounterBehavior())
}

func TestManager_AskCreatesThenUpdates(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	id := counterID("c1")

	events, err := m.Ask(ctx, id, counterCmd{id: "cmd-1", amount: 5}, time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Sequence)

	state, err := m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, state.total)

	_, err = m.Ask(ctx, id, counterCmd{id: "cmd-2", amount: 3}, time.Second)
	require.NoError(t, err)

	state, err = m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 8, state.total)
}

func TestManager_RejectLeavesStateUntouched(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	id := counterID("c2")

	_, err := m.Ask(ctx, id, counterCmd{id: "cmd-1", amount: 10}, time.Second)
	require.NoError(t, err)

	_, err = m.Ask(ctx, id, counterCmd{id: "cmd-2", amount: 1, reject: true}, time.Second)
	require.Error(t, err)
	var rejected *domain.RejectedError
	require.True(t, errors.As(err, &rejected))

	state, err := m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, state.total, "a rejected command must not change state")
}

func TestManager_QueryUnknownAggregate(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	_, err := m.State(ctx, counterID("missing"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	exists, err := m.Exists(ctx, counterID("missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestManager_SubmitIsFireAndForgetButStillApplied(t *testing.T) {
	m := newManager()
	id := counterID("c3")

	m.Submit(id, counterCmd{id: "cmd-1", amount: 7})

	require.Eventually(t, func() bool {
		state, err := m.State(context.Background(), id)
		return err == nil && state.total == 7
	}, time.Second, time.Millisecond)
}

func TestManager_RetryOnConflictRebuildsCommandFromFreshState(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	id := counterID("c4")

	_, err := m.Ask(ctx, id, counterCmd{id: "seed", amount: 1}, time.Second)
	require.NoError(t, err)

	attempts := 0
	events, err := m.RetryOnConflict(ctx, id, 3, time.Second, func(state counterState, exists bool) (counterCmd, error) {
		require.True(t, exists)
		attempts++
		return counterCmd{
			id:     domain.CommandID(fmt.Sprintf("retry-%d", attempts)),
			amount: state.total,
			reject: attempts < 3,
		}, nil
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 3, attempts, "build must be re-invoked against fresh state on every rejected attempt")

	state, err := m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, state.total, "only the eventually-accepted attempt's event should be folded")
}

func TestManager_RetryOnConflictGivesUpAfterMaxRetries(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	id := counterID("c5")

	_, err := m.Ask(ctx, id, counterCmd{id: "seed", amount: 1}, time.Second)
	require.NoError(t, err)

	_, err = m.RetryOnConflict(ctx, id, 2, time.Second, func(state counterState, exists bool) (counterCmd, error) {
		return counterCmd{id: domain.CommandID("always-rejected"), amount: 1, reject: true}, nil
	})
	require.Error(t, err)
	var rejected *domain.RejectedError
	require.True(t, errors.As(err, &rejected))
}

func TestManager_PerIDSerializationUnderConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}

	m := newManager()
	ctx := context.Background()
	id := counterID("concurrent")

	_, err := m.Ask(ctx, id, counterCmd{id: "seed", amount: 0}, time.Second)
	require.NoError(t, err)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Ask(ctx, id, counterCmd{id: domain.CommandID(fmt.Sprintf("w-%d", i)), amount: 1}, time.Second)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	state, err := m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, n, state.total, "every concurrent command must be applied exactly once")
}
