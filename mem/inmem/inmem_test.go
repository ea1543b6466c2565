package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/mem"
	"choiros.io/kernel/mem/embed"
	"choiros.io/kernel/mem/inmem"
)

func TestIngest_IsIdempotentByChunkHash(t *testing.T) {
	t.Parallel()

	store := inmem.New(embed.NewDeterministic(16))
	ctx := context.Background()

	rec := mem.Record{Collection: mem.CollectionUserInputs, ChunkHash: "h1", Text: "what is the weather", UserID: "u1"}
	first, err := store.Ingest(ctx, rec)
	require.NoError(t, err)
	second, err := store.Ingest(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, first.RecordID, second.RecordID)
}

func TestIngest_RequiresChunkHash(t *testing.T) {
	t.Parallel()

	store := inmem.New(embed.NewDeterministic(16))
	_, err := store.Ingest(context.Background(), mem.Record{Collection: mem.CollectionUserInputs, Text: "x"})
	require.ErrorIs(t, err, mem.ErrChunkHashRequired)
}

func TestSearch_ReturnsIngestedRecordForMatchingQuery(t *testing.T) {
	t.Parallel()

	store := inmem.New(embed.NewDeterministic(16))
	ctx := context.Background()

	_, err := store.Ingest(ctx, mem.Record{Collection: mem.CollectionUserInputs, ChunkHash: "h1", Text: "deploy the service", UserID: "u1"})
	require.NoError(t, err)
	_, err = store.Ingest(ctx, mem.Record{Collection: mem.CollectionUserInputs, ChunkHash: "h2", Text: "bake a cake", UserID: "u1"})
	require.NoError(t, err)

	hits, err := store.Search(ctx, "deploy the service", mem.CollectionUserInputs, "u1", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "deploy the service", hits[0].Record.Text)
}

func TestContextPack_DeterministicForIdenticalInputs(t *testing.T) {
	t.Parallel()

	store := inmem.New(embed.NewDeterministic(16))
	ctx := context.Background()

	for i, text := range []string{"alpha objective notes", "beta objective notes", "gamma objective notes"} {
		_, err := store.Ingest(ctx, mem.Record{
			Collection: mem.CollectionRunTrajectories,
			ChunkHash:  string(rune('a' + i)),
			Text:       text,
			UserID:     "u1",
		})
		require.NoError(t, err)
	}

	first, err := store.ContextPack(ctx, "alpha objective notes", "u1", 100)
	require.NoError(t, err)
	second, err := store.ContextPack(ctx, "alpha objective notes", "u1", 100)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCitation_ProposeThenConfirmIncrementsCitationCount(t *testing.T) {
	t.Parallel()

	store := inmem.New(embed.NewDeterministic(16))
	ctx := context.Background()

	rec, err := store.Ingest(ctx, mem.Record{Collection: mem.CollectionUserInputs, ChunkHash: "h1", Text: "source text", UserID: "u1"})
	require.NoError(t, err)

	c, err := store.Propose(ctx, mem.CitationRecord{
		CitedID: rec.RecordID, CitedKind: "memory_record", CitingRunID: "run-1",
		CitingActor: "researcher", CiteKind: mem.CiteRetrievedContext, Rationale: "supports claim",
	})
	require.NoError(t, err)
	require.Equal(t, mem.CitationProposed, c.Status)

	confirmed, err := store.Confirm(ctx, c.CitationID, "writer-app")
	require.NoError(t, err)
	require.Equal(t, mem.CitationConfirmed, confirmed.Status)

	list, err := store.ListForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}
