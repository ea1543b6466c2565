package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/harness/policy"
	"choiros.io/kernel/harness/tools"
)

func TestToHarnessPolicy_AppliesAllowAndBlockLists(t *testing.T) {
	t.Parallel()

	engine := policy.NewEngine(map[string]policy.Config{
		"researcher": {AllowTags: []string{"research"}, BlockTools: []tools.Ident{"fetch_url"}},
		"terminal":   {AllowTools: []tools.Ident{"bash", "finished"}},
	})

	catalog := map[string][]policy.ToolMetadata{
		"researcher": {
			{ID: "web_search", Tags: []string{"research"}},
			{ID: "fetch_url", Tags: []string{"research"}},
			{ID: "finished", Tags: []string{"research"}},
			{ID: "bash", Tags: []string{"exec"}},
		},
	}

	hp := engine.ToHarnessPolicy(catalog)
	require.True(t, hp.Allowed("researcher", "web_search"))
	require.True(t, hp.Allowed("researcher", "finished"))
	require.False(t, hp.Allowed("researcher", "fetch_url"))
	require.False(t, hp.Allowed("researcher", "bash"))
	require.False(t, hp.Allowed("terminal", "web_search"))
}
