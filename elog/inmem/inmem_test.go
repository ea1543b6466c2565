package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/elog"
	"choiros.io/kernel/elog/inmem"
)

func TestAppend_AssignsStrictlyIncreasingSeq(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	first, err := store.Append(ctx, elog.Event{EventID: "a", Type: "run.start", CreatedAt: time.Now()})
	require.NoError(t, err)
	second, err := store.Append(ctx, elog.Event{EventID: "b", Type: "run.start", CreatedAt: time.Now()})
	require.NoError(t, err)

	require.Equal(t, int64(1), first.Seq)
	require.Equal(t, int64(2), second.Seq)
}

func TestAppend_IsIdempotentByEventID(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	evt := elog.Event{EventID: "dup", Type: "run.start", CreatedAt: time.Now()}
	first, err := store.Append(ctx, evt)
	require.NoError(t, err)

	second, err := store.Append(ctx, evt)
	require.NoError(t, err)
	require.Equal(t, first, second)

	events, err := store.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestAppend_RequiresEventIDAndType(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	_, err := store.Append(ctx, elog.Event{Type: "run.start"})
	require.ErrorIs(t, err, elog.ErrEventIDRequired)

	_, err = store.Append(ctx, elog.Event{EventID: "x"})
	require.ErrorIs(t, err, elog.ErrTypeRequired)
}

func TestGet_ReturnsNotFoundBeyondRange(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	_, err := store.Get(context.Background(), 1)
	require.ErrorIs(t, err, elog.ErrNotFound)
}

func TestSubscribe_DeliversBacklogThenFutureAppends(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.Append(ctx, elog.Event{EventID: "1", Type: "run.start", CreatedAt: time.Now()})
	require.NoError(t, err)

	ch, sub, err := store.Subscribe(ctx, 0)
	require.NoError(t, err)
	defer sub.Close()

	backlog := <-ch
	require.Equal(t, "1", backlog.EventID)

	_, err = store.Append(ctx, elog.Event{EventID: "2", Type: "run.start", CreatedAt: time.Now()})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		require.Equal(t, "2", evt.EventID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for appended event")
	}
}

func TestSubscribe_ClosesOnContextCancel(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _, err := store.Subscribe(ctx, 0)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
