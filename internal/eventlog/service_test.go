package eventlog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)

	err := svc.Record(context.Background(), Event{
		Topic:    TopicJobPosted,
		Entity:   "job",
		EntityID: "job/1",
		Actor:    10,
	})
	require.NoError(t, err)

	all := store.All()
	require.Len(t, all, 1)
	require.NotEqual(t, uuid.Nil, all[0].ID)
	require.False(t, all[0].At.IsZero())
}

func TestRecordRejectsIncompleteEvents(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil)

	for _, ev := range []Event{
		{Entity: "job", EntityID: "job/1"},
		{Topic: TopicJobPosted, EntityID: "job/1"},
		{Topic: TopicJobPosted, Entity: "job"},
	} {
		require.Error(t, svc.Record(context.Background(), ev))
	}
}

func TestListFiltersAndCounts(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(ctx, Event{Topic: TopicJobPosted, Entity: "job", EntityID: "job/1"}))
	}
	require.NoError(t, svc.Record(ctx, Event{Topic: TopicPaymentLocked, Entity: "operation", EntityID: "job/1"}))

	events, err := svc.List(ctx, Filter{Topic: TopicJobPosted})
	require.NoError(t, err)
	require.Len(t, events, 3)

	total, err := svc.Count(ctx, Filter{Topic: TopicJobPosted})
	require.NoError(t, err)
	require.Equal(t, 3, total)

	// Count ignores limit and offset; List honors them.
	events, err = svc.List(ctx, Filter{Topic: TopicJobPosted, Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)

	total, err = svc.Count(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 4, total)
}
