package inmem_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/rev"
	"choiros.io/kernel/rev/inmem"
)

func TestCommitRevision_RequiresMatchingParent(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	p1, err := store.RecordPatch(ctx, rev.Patch{PatchID: "p1", Subject: "doc-1", Content: []byte("a")})
	require.NoError(t, err)

	first, err := store.CommitRevision(ctx, "doc-1", "", p1.PatchID)
	require.NoError(t, err)

	p2, err := store.RecordPatch(ctx, rev.Patch{PatchID: "p2", Subject: "doc-1", Content: []byte("b")})
	require.NoError(t, err)

	// Stale parent: caller didn't observe `first` as the head.
	_, err = store.CommitRevision(ctx, "doc-1", "", p2.PatchID)
	require.ErrorIs(t, err, rev.ErrStaleParent)

	second, err := store.CommitRevision(ctx, "doc-1", first.RevisionID, p2.PatchID)
	require.NoError(t, err)
	require.Equal(t, first.RevisionID, second.ParentID)

	head, err := store.Head(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, second.RevisionID, head.RevisionID)
}

func TestRecordPatch_IsIdempotentByPatchID(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	p := rev.Patch{PatchID: "dup", Subject: "doc-1", Content: []byte("x")}
	first, err := store.RecordPatch(ctx, p)
	require.NoError(t, err)
	second, err := store.RecordPatch(ctx, p)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestHead_ReturnsErrNoHeadForUnknownSubject(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	_, err := store.Head(context.Background(), "never-committed")
	require.ErrorIs(t, err, rev.ErrNoHead)
}

func TestCommitRevision_OnlyOneWinnerUnderConcurrentCAS(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	ctx := context.Background()

	const n = 20
	patchIDs := make([]string, n)
	for i := range patchIDs {
		id := "p" + string(rune('a'+i))
		_, err := store.RecordPatch(ctx, rev.Patch{PatchID: id, Subject: "doc-1", Content: []byte(id)})
		require.NoError(t, err)
		patchIDs[i] = id
	}

	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.CommitRevision(ctx, "doc-1", "", patchIDs[i])
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one concurrent commit against an empty head should win")
}
