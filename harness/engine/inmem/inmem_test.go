package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/harness"
	"choiros.io/kernel/harness/engine/inmem"
)

func TestSpawn_DeliversCompletionToMailbox(t *testing.T) {
	t.Parallel()

	spawner := inmem.New(func(ctx context.Context, spec harness.RecurseSpec) (*harness.Result, error) {
		return &harness.Result{Status: harness.StatusCompleted, Summary: spec.Objective}, nil
	})

	mailbox := make(chan harness.Completion, 1)
	spawner.Spawn(context.Background(), harness.RecurseSpec{Objective: "find the valve", Profile: harness.ProfileWorker}, "parent-1", mailbox)

	select {
	case c := <-mailbox:
		require.NoError(t, c.Err)
		require.NotEmpty(t, c.HarnessID)
		require.Equal(t, "find the valve", c.Result.Summary)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}
