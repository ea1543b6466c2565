package kernelid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_PrefixesByKind(t *testing.T) {
	t.Parallel()

	id := New(KindWork, "")
	require.True(t, strings.HasPrefix(id, "work-"))
}

func TestNew_FoldsScopeIntoPrefix(t *testing.T) {
	t.Parallel()

	id := New(KindRun, "research.conductor")
	require.True(t, strings.HasPrefix(id, "run-research-conductor-"))
}

func TestNew_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewEventID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestTypedConstructors_UseExpectedKind(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		NewEventID():               "evt-",
		NewSessionID():             "sess-",
		NewTurnID():                "turn-",
		NewWorkID():                "work-",
		NewLeaseID():               "lease-",
		NewPatchID():               "patch-",
		NewRevisionID():            "rev-",
		NewMessageID():             "msg-",
		NewChunkID():               "chunk-",
		NewCitationID():            "cite-",
		NewActorHarnessID("wkr"):   "harn-wkr-",
		NewRunID("conductor.main"): "run-conductor-main-",
	}
	for id, prefix := range cases {
		require.True(t, strings.HasPrefix(id, prefix), "id %q should have prefix %q", id, prefix)
	}
}
