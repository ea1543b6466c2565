package harness_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/elog/inmem"
	"choiros.io/kernel/harness"
	"choiros.io/kernel/harness/model"
	"choiros.io/kernel/harness/tools"
	memembed "choiros.io/kernel/mem/embed"
	meminmem "choiros.io/kernel/mem/inmem"
)

// stubModel returns its configured responses in order, repeating the last one
// once they run out, so tests terminate deterministically without a real
// provider.
type stubModel struct {
	responses []*model.Response
	i         int
}

func (s *stubModel) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	r := s.responses[s.i]
	if s.i < len(s.responses)-1 {
		s.i++
	}
	return r, nil
}

func (s *stubModel) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

type stubTools struct{ calls int }

func (t *stubTools) Execute(ctx context.Context, call model.ToolCall) (model.ToolResultPart, error) {
	t.calls++
	return model.ToolResultPart{ToolUseID: call.ID, Content: map[string]any{"ok": true}}, nil
}

// controlPlaneParser decodes the reserved control-plane tool call the stub
// model emits into a typed NextAction, mirroring how a real parser reads a
// provider's "finished"/"block" tool-call convention.
type controlPlaneParser struct{}

func (controlPlaneParser) Parse(resp *model.Response) (harness.NextAction, error) {
	if len(resp.ToolCalls) == 0 {
		return harness.NextAction{}, nil
	}
	call := resp.ToolCalls[0]
	switch call.Name {
	case "finished":
		var p struct{ Summary string }
		_ = json.Unmarshal(call.Payload, &p)
		return harness.NextAction{Kind: harness.ActionComplete, Summary: p.Summary}, nil
	case "block":
		var p struct{ Reason string }
		_ = json.Unmarshal(call.Payload, &p)
		return harness.NextAction{Kind: harness.ActionBlock, Reason: p.Reason}, nil
	default:
		return harness.NextAction{Kind: harness.ActionToolCalls, ToolCalls: resp.ToolCalls}, nil
	}
}

func toolCallResponse(name, payload string) *model.Response {
	return &model.Response{ToolCalls: []model.ToolCall{{Name: tools.Ident(name), Payload: json.RawMessage(payload), ID: "tc-1"}}}
}

func TestRun_CompletesAfterToolCallThenFinished(t *testing.T) {
	t.Parallel()

	memStore := meminmem.New(memembed.NewDeterministic(8))
	events := inmem.New()
	toolExec := &stubTools{}
	policy := harness.NewPolicy(map[string][]tools.Ident{
		"researcher": {"web_search", "finished"},
	})
	m := &stubModel{responses: []*model.Response{
		toolCallResponse("web_search", `{"q":"pumps"}`),
		toolCallResponse("finished", `{"summary":"found it"}`),
	}}

	h := harness.New(harness.ProfileWorker, "researcher", policy, m, memStore, events, toolExec, controlPlaneParser{}, nil, nil)
	result, err := h.Run(context.Background(), "run-1", "u1", "find the pump spec")
	require.NoError(t, err)
	require.Equal(t, harness.StatusCompleted, result.Status)
	require.Equal(t, "found it", result.Summary)
	require.Equal(t, 1, toolExec.calls)
}

func TestRun_DisallowedToolRetriesOnceThenBlocks(t *testing.T) {
	t.Parallel()

	memStore := meminmem.New(memembed.NewDeterministic(8))
	events := inmem.New()
	toolExec := &stubTools{}
	policy := harness.NewPolicy(map[string][]tools.Ident{
		"researcher": {"finished"},
	})
	m := &stubModel{responses: []*model.Response{
		toolCallResponse("bash", `{}`),
	}}

	h := harness.New(harness.ProfileWorker, "researcher", policy, m, memStore, events, toolExec, controlPlaneParser{}, nil, nil)
	result, err := h.Run(context.Background(), "run-1", "u1", "do something disallowed")
	require.NoError(t, err)
	require.Equal(t, harness.StatusBlocked, result.Status)
	require.Equal(t, 0, toolExec.calls)
}

func TestRun_ExhaustsStepBudget(t *testing.T) {
	t.Parallel()

	memStore := meminmem.New(memembed.NewDeterministic(8))
	events := inmem.New()
	toolExec := &stubTools{}
	policy := harness.NewPolicy(map[string][]tools.Ident{"researcher": {"web_search", "finished"}})
	m := &stubModel{responses: []*model.Response{toolCallResponse("web_search", `{}`)}}

	profile := harness.Profile{Name: "tiny", MaxSteps: 2, TimeoutBudget: harness.ProfileWorker.TimeoutBudget, MaxRecurseDepth: 1}
	h := harness.New(profile, "researcher", policy, m, memStore, events, toolExec, controlPlaneParser{}, nil, nil)
	result, err := h.Run(context.Background(), "run-1", "u1", "loop forever")
	require.NoError(t, err)
	require.True(t, result.BudgetExhausted)
	require.Equal(t, "budget exhausted", result.Summary)
}

func TestRun_FanOutAwaitsAllCompletions(t *testing.T) {
	t.Parallel()

	memStore := meminmem.New(memembed.NewDeterministic(8))
	events := inmem.New()
	toolExec := &stubTools{}
	policy := harness.NewPolicy(map[string][]tools.Ident{"conductor": {"finished"}})

	fanOutPayload, _ := json.Marshal(map[string]any{})
	parser := &fanOutThenFinishParser{}
	m := &stubModel{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{Name: "fan_out", Payload: fanOutPayload, ID: "f1"}}},
		toolCallResponse("finished", `{"summary":"branches done"}`),
	}}

	spawner := &fakeSpawner{}
	h := harness.New(harness.ProfileConductor, "conductor", policy, m, memStore, events, toolExec, parser, spawner, nil)
	result, err := h.Run(context.Background(), "run-1", "u1", "spawn two branches")
	require.NoError(t, err)
	require.Equal(t, harness.StatusCompleted, result.Status)
	require.Equal(t, 2, spawner.spawned)
}

type fanOutThenFinishParser struct{ i int }

func (p *fanOutThenFinishParser) Parse(resp *model.Response) (harness.NextAction, error) {
	if p.i == 0 {
		p.i++
		return harness.NextAction{Kind: harness.ActionFanOut, Branches: []harness.RecurseSpec{
			{Objective: "branch a", Capability: "researcher", Profile: harness.ProfileWorker},
			{Objective: "branch b", Capability: "researcher", Profile: harness.ProfileWorker},
		}}, nil
	}
	return controlPlaneParser{}.Parse(resp)
}

type fakeSpawner struct{ spawned int }

func (s *fakeSpawner) Spawn(ctx context.Context, spec harness.RecurseSpec, parentHarnessID string, mailbox chan<- harness.Completion) {
	s.spawned++
	go func() {
		mailbox <- harness.Completion{HarnessID: "sub-" + spec.Objective, Result: &harness.Result{Status: harness.StatusCompleted, Summary: "ok"}}
	}()
}
