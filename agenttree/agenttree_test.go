package agenttree_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/agenttree"
)

func TestSnapshot_TruncatesOldestSignalFirst(t *testing.T) {
	t.Parallel()

	tr := agenttree.New()
	base := time.Now()
	tr.Upsert(agenttree.Node{AgentID: "a1", LastSignalTime: base})
	tr.Upsert(agenttree.Node{AgentID: "a2", LastSignalTime: base.Add(time.Minute)})
	tr.Upsert(agenttree.Node{AgentID: "a3", LastSignalTime: base.Add(2 * time.Minute)})

	snap := tr.Snapshot(2)
	require.True(t, snap.Truncated)
	require.Len(t, snap.Nodes, 2)
	require.Equal(t, "a3", snap.Nodes[0].AgentID)
	require.Equal(t, "a2", snap.Nodes[1].AgentID)
}

func TestSnapshot_NoTruncationUnderBudget(t *testing.T) {
	t.Parallel()

	tr := agenttree.New()
	tr.Upsert(agenttree.Node{AgentID: "a1", LastSignalTime: time.Now()})
	snap := tr.Snapshot(10)
	require.False(t, snap.Truncated)
	require.Len(t, snap.Nodes, 1)
}
