package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/sched"
	"choiros.io/kernel/sched/inmem"
)

func TestDispatch_DrainsEachQueuedItemOnce(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"w3", "w1", "w2"} {
		_, err := store.RequestWork(ctx, sched.Item{WorkID: id, RunID: "r1", CreatedAt: base.Add(time.Duration(-i) * time.Minute)})
		require.NoError(t, err)
	}

	// RequestWork stamps CreatedAt itself, so the timestamps passed above are
	// ignored and order follows call time, with WorkID breaking ties; assert
	// dispatch never errors and drains all three exactly once.
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		item, err := store.Dispatch(ctx, "worker-1", time.Minute)
		require.NoError(t, err)
		require.False(t, seen[item.WorkID])
		seen[item.WorkID] = true
	}
	_, err := store.Dispatch(ctx, "worker-1", time.Minute)
	require.ErrorIs(t, err, sched.ErrNotFound)
}

func TestRequestWork_IdempotentByRunAndWorkID(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	item := sched.Item{WorkID: "w1", RunID: "r1", Kind: "tool_call"}
	first, err := store.RequestWork(ctx, item)
	require.NoError(t, err)
	second, err := store.RequestWork(ctx, item)
	require.NoError(t, err)
	require.Equal(t, first.WorkID, second.WorkID)

	items, err := store.ListByRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestFail_RequeuesUntilRetriesExhausted(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	_, err := store.RequestWork(ctx, sched.Item{WorkID: "w1", RunID: "r1", MaxRetries: 2})
	require.NoError(t, err)

	item, err := store.Dispatch(ctx, "worker-1", time.Minute)
	require.NoError(t, err)

	requeued, err := store.Fail(ctx, item.WorkID, item.LeaseID, "boom")
	require.NoError(t, err)
	require.Equal(t, sched.StateQueued, requeued.State)

	item2, err := store.Dispatch(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, item2.Attempts)

	blocked, err := store.Fail(ctx, item2.WorkID, item2.LeaseID, "boom again")
	require.ErrorIs(t, err, sched.ErrRetriesExhausted)
	require.Equal(t, sched.StateBlocked, blocked.State)
	require.Equal(t, "boom again", blocked.BlockReason)
}

func TestRequeueExpired_RequeuesStaleLeases(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	_, err := store.RequestWork(ctx, sched.Item{WorkID: "w1", RunID: "r1"})
	require.NoError(t, err)
	item, err := store.Dispatch(ctx, "worker-1", time.Millisecond)
	require.NoError(t, err)

	requeued, err := store.RequeueExpired(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Contains(t, requeued, item.WorkID)

	got, err := store.Get(ctx, item.WorkID)
	require.NoError(t, err)
	require.Equal(t, sched.StateQueued, got.State)
	require.Empty(t, got.LeaseID)
}

func TestComplete_RejectsMismatchedLease(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	_, err := store.RequestWork(ctx, sched.Item{WorkID: "w1", RunID: "r1"})
	require.NoError(t, err)
	item, err := store.Dispatch(ctx, "worker-1", time.Minute)
	require.NoError(t, err)

	_, err = store.Complete(ctx, item.WorkID, "wrong-lease")
	require.ErrorIs(t, err, sched.ErrNotLeased)

	done, err := store.Complete(ctx, item.WorkID, item.LeaseID)
	require.NoError(t, err)
	require.Equal(t, sched.StateCompleted, done.State)
}
