package rev_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"choiros.io/kernel/rev"
	"choiros.io/kernel/rev/inmem"
)

// TestRevisionChainProperty verifies that a sequence of correctly-chained
// CommitRevision calls always produces a revision chain whose parent links
// form a single linear sequence with no gaps, regardless of patch count.
func TestRevisionChainProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("sequential commits form one linear chain", prop.ForAll(
		func(n int) bool {
			if n <= 0 {
				return true
			}
			store := inmem.New()
			ctx := context.Background()
			const subject = "doc"

			parent := ""
			for i := 0; i < n; i++ {
				patchID := "p" + string(rune('a'+i%26)) + string(rune('0'+i/26))
				p, err := store.RecordPatch(ctx, rev.Patch{PatchID: patchID, Subject: subject, Content: []byte{byte(i)}})
				if err != nil {
					return false
				}
				r, err := store.CommitRevision(ctx, subject, parent, p.PatchID)
				if err != nil {
					return false
				}
				if r.ParentID != parent {
					return false
				}
				parent = r.RevisionID
			}

			history, err := store.History(ctx, subject, 0)
			if err != nil || len(history) != n {
				return false
			}
			prevID := ""
			for _, r := range history {
				if r.ParentID != prevID {
					return false
				}
				prevID = r.RevisionID
			}
			head, err := store.Head(ctx, subject)
			if err != nil {
				return false
			}
			return head.RevisionID == prevID
		},
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}

func TestCommitRevision_NonexistentPatchFails(t *testing.T) {
	t.Parallel()

	store := inmem.New()
	_, err := store.CommitRevision(context.Background(), "doc", "", "missing")
	require.ErrorIs(t, err, rev.ErrPatchNotFound)
}
