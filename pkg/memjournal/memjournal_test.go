package memjournal_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/journal"
	"github.com/cqrskit/core/pkg/memjournal"
)

func ev(id, aggregateID string, seq int64) domain.Event {
	return domain.Event{ID: domain.EventID(id), AggregateID: aggregateID, Sequence: seq}
}

func TestAppendAndLoad(t *testing.T) {
	j := memjournal.New()
	ctx := context.Background()

	_, err := j.Append(ctx, "a1", []domain.Event{ev("e1", "a1", 1), ev("e2", "a1", 2)})
	require.NoError(t, err)

	events, err := j.Load(ctx, "a1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventID("e1"), events[0].ID)

	events, err = j.Load(ctx, "a1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventID("e2"), events[0].ID)
}

func TestLoadAllAcrossAggregates(t *testing.T) {
	j := memjournal.New()
	ctx := context.Background()

	_, err := j.Append(ctx, "a1", []domain.Event{ev("e1", "a1", 1)})
	require.NoError(t, err)
	_, err = j.Append(ctx, "a2", []domain.Event{ev("e2", "a2", 1)})
	require.NoError(t, err)

	all, err := j.LoadAll(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.EventID("e1"), all[0].ID)
	assert.Equal(t, domain.EventID("e2"), all[1].ID)

	batch, err := j.LoadAll(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, domain.EventID("e2"), batch[0].ID)
}

func TestSubscribeDeliversAppendedEvents(t *testing.T) {
	j := memjournal.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := j.Subscribe(ctx, journal.TagFilter{})
	require.NoError(t, err)

	_, err = j.Append(ctx, "a1", []domain.Event{ev("e1", "a1", 1)})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, domain.EventID("e1"), got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed event")
	}
}

func TestSubscribeFilterExcludesUntaggedEvents(t *testing.T) {
	j := memjournal.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := j.Subscribe(ctx, journal.TagFilter{Tags: []string{"billing"}})
	require.NoError(t, err)

	untagged := ev("e1", "a1", 1)
	tagged := ev("e2", "a1", 2)
	tagged.Tags = map[string]struct{}{"billing": {}}

	_, err = j.Append(ctx, "a1", []domain.Event{untagged, tagged})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, domain.EventID("e2"), got.ID, "only the tagged event should be delivered")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed event")
	}

	select {
	case got, ok := <-ch:
		if ok {
			t.Fatalf("unexpected second delivery: %+v", got)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeChannelClosesOnContextCancel(t *testing.T) {
	j := memjournal.New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := j.Subscribe(ctx, journal.TagFilter{})
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancellation")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestAppendDoesNotBlockOnStalledSubscriber(t *testing.T) {
	j := memjournal.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stalled, err := j.Subscribe(ctx, journal.TagFilter{})
	require.NoError(t, err)
	_ = stalled // never drained, simulating a stalled projection

	live, err := j.Subscribe(ctx, journal.TagFilter{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_, err := j.Append(ctx, "a1", []domain.Event{ev(fmt.Sprintf("e%d", i), "a1", int64(i+1))})
			require.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a subscriber that never drains its channel")
	}

	select {
	case got := <-live:
		assert.Equal(t, domain.EventID("e0"), got.ID, "a well-behaved subscriber must still receive events")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the live subscriber's event")
	}
}

func TestAppendDuringSubscriptionCancelNeverPanics(t *testing.T) {
	j := memjournal.New()

	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := j.Subscribe(ctx, journal.TagFilter{})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancel()
		}()
		go func() {
			defer wg.Done()
			_, _ = j.Append(context.Background(), "a1", []domain.Event{ev("e", "a1", 1)})
		}()
		wg.Wait()
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	j := memjournal.New()
	require.NoError(t, j.Close())

	_, err := j.Append(context.Background(), "a1", []domain.Event{ev("e1", "a1", 1)})
	assert.ErrorIs(t, err, domain.ErrJournalFailure)
}
