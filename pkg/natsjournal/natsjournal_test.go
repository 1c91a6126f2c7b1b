package natsjournal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/journal"
	"github.com/cqrskit/core/pkg/memjournal"
	"github.com/cqrskit/core/pkg/natsjournal"
)

func TestJournal_AppendDelegatesAndRepublishes(t *testing.T) {
	inner := memjournal.New()
	j, err := natsjournal.New("widget", inner)
	require.NoError(t, err)
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := j.Subscribe(ctx, journal.TagFilter{})
	require.NoError(t, err)

	ev := domain.Event{
		ID: "e1", AggregateID: "widget-1", AggregateType: "widget",
		EventType: "Created", Sequence: 1, Timestamp: time.Now(),
		CommandID: "cmd-1", Payload: map[string]any{"name": "widget"},
	}
	_, err = j.Append(ctx, "widget-1", []domain.Event{ev})
	require.NoError(t, err)

	select {
	case got := <-events:
		require.Equal(t, ev.ID, got.ID)
		require.Equal(t, ev.Sequence, got.Sequence)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for republished event")
	}

	loaded, err := inner.Load(ctx, "widget-1", 0)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestJournal_LoadAllDelegatesToInner(t *testing.T) {
	inner := memjournal.New()
	j, err := natsjournal.New("widget", inner)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	ev := domain.Event{ID: "e1", AggregateID: "widget-1", Sequence: 1, Payload: "x"}
	_, err = j.Append(ctx, "widget-1", []domain.Event{ev})
	require.NoError(t, err)

	all, err := j.LoadAll(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestJournal_CloseIsIdempotent(t *testing.T) {
	inner := memjournal.New()
	j, err := natsjournal.New("widget", inner)
	require.NoError(t, err)

	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
}
