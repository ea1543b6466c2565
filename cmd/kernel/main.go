// Command kernel wires every ChoirOS kernel component into a single
// in-memory process and drives scenario 1 from end to end: a user objective
// wakes the conductor, the conductor delegates to the owning app agent, the
// app agent requests capability work, a capability worker commits a patch,
// and the app agent closes the run once the revision lands.
//
// It plays the same role cmd/demo/main.go plays for the goa-ai runtime: a
// minimal, fully-wired program proving the pieces fit together, not a
// production entrypoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"choiros.io/kernel/a2a"
	"choiros.io/kernel/agenttree"
	"choiros.io/kernel/atd"
	"choiros.io/kernel/conductor"
	"choiros.io/kernel/elog"
	eloginmem "choiros.io/kernel/elog/inmem"
	"choiros.io/kernel/harness"
	"choiros.io/kernel/harness/engine/inmem"
	"choiros.io/kernel/harness/model"
	"choiros.io/kernel/harness/policy"
	"choiros.io/kernel/harness/tools"
	"choiros.io/kernel/kernelid"
	"choiros.io/kernel/mcp"
	"choiros.io/kernel/mem"
	memembed "choiros.io/kernel/mem/embed"
	meminmem "choiros.io/kernel/mem/inmem"
	"choiros.io/kernel/rev"
	revinmem "choiros.io/kernel/rev/inmem"
	"choiros.io/kernel/sched"
	schedinmem "choiros.io/kernel/sched/inmem"
	"choiros.io/kernel/telemetry"
)

const (
	appAgentID      = "doc-agent"
	appCapability   = "doc_app_agent"
	draftTool       = tools.Ident("draft_document")
	draftSuite      = "writer_suite"
	draftWorkKind   = "draft_capability"
	documentSubject = "quarterly-report"
)

// draftToolPayloadSchema constrains draft_document calls to the {"subject":
// string} shape the step below always sends, so mcp.ToolExecutor rejects a
// malformed payload before it ever reaches draftToolCaller.
var draftToolPayloadSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"subject": {"type": "string"}},
	"required": ["subject"]
}`)

func main() {
	ctx := context.Background()

	events := eloginmem.New()
	memStore := meminmem.New(memembed.NewDeterministic(32))
	revStore := revinmem.New()
	schedStore := schedinmem.New()
	tracker := agenttree.New()
	logger := telemetry.NewNoopLogger()

	polEngine := policy.NewEngine(map[string]policy.Config{
		appCapability: {AllowTools: []tools.Ident{draftTool}},
	})
	catalog := map[string][]policy.ToolMetadata{
		appCapability: {{ID: draftTool}},
	}
	allowedTools := polEngine.ToHarnessPolicy(catalog)

	toolExec := mcp.NewToolExecutor(&draftToolCaller{}, map[string]string{string(draftTool): draftSuite})
	if err := toolExec.SetPayloadSchema(string(draftTool), draftToolPayloadSchema); err != nil {
		panic(fmt.Sprintf("kernel: compile %s payload schema: %v", draftTool, err))
	}

	spawner := inmem.New(func(ctx context.Context, spec harness.RecurseSpec) (*harness.Result, error) {
		h := harness.New(spec.Profile, spec.Capability, harness.NewPolicy(nil), noopModel{}, memStore, events, toolExec, completeImmediately{}, nil, logger)
		return h.Run(ctx, kernelid.NewRunID(spec.Capability), "system", spec.Objective)
	})

	appAgent := &docAppAgent{
		policy:   allowedTools,
		toolExec: toolExec,
		spawner:  spawner,
		memStore: memStore,
		events:   events,
		logger:   logger,
	}
	dispatcher := atd.New(map[string]atd.AppAgent{appAgentID: appAgent}, revStore, schedStore, events)

	directory := a2a.NewDirectory(map[string]a2a.Delegator{
		appAgentID: &inprocDelegator{dispatcher: dispatcher},
	})

	newConductorHarness := func() *harness.Harness {
		return harness.New(harness.ProfileConductor, "conductor", harness.NewPolicy(nil), noopModel{}, memStore, events, nil, delegateToDocAgent{}, spawner, logger)
	}
	cond := conductor.New(tracker, events, newConductorHarness, directory)

	runID := kernelid.NewRunID("demo")
	wakeResult, err := cond.Wake(ctx, conductor.Wake{
		Trigger:   conductor.WakeRunStart,
		RunID:     runID,
		UserID:    "user-1",
		Objective: "draft the quarterly report",
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("conductor wake:", wakeResult.Status, wakeResult.Summary)

	// The app agent's first turn (triggered by the delegate above) requests
	// draft_capability work. Play the capability worker ourselves: lease the
	// item, commit a patch, mark it complete, and re-trigger the app agent
	// with the patch now unapplied, the same way a real worker harness would.
	item, ok := awaitQueuedItem(ctx, schedStore, runID, 2*time.Second)
	if !ok {
		panic("kernel: no draft_capability work item appeared")
	}
	fmt.Println("scheduler dispatched work:", item.WorkID, item.Kind)

	patch, err := revStore.RecordPatch(ctx, rev.Patch{
		PatchID: kernelid.NewPatchID(),
		Subject: documentSubject,
		Content: []byte("Q3 revenue up 12%, headcount flat, runway unchanged."),
	})
	if err != nil {
		panic(err)
	}
	if _, err := schedStore.Complete(ctx, item.WorkID, item.LeaseID); err != nil {
		panic(err)
	}
	recordEvent(ctx, events, runID, "work.completed", map[string]any{"work_id": item.WorkID})

	if err := dispatcher.Trigger(ctx, appAgentID, atd.AppTurnInput{
		RunID:             runID,
		Objective:         "draft the quarterly report",
		UnappliedPatchIDs: []string{patch.PatchID},
		OpenWorkSummary:   "draft_capability completed",
	}); err != nil {
		panic(err)
	}

	if !awaitRunClosed(ctx, events, runID, 2*time.Second) {
		panic("kernel: run never closed")
	}

	head, err := revStore.Head(ctx, runID)
	if err != nil {
		panic(err)
	}
	fmt.Println("committed revision:", head.RevisionID, "parent:", head.ParentID)
}

// docAppAgent is the owning app agent for scenario 1: it either has no work
// in flight yet (draft a tool call, then request draft_capability work) or
// has an unapplied patch waiting (commit it and close the run). Both
// decisions come straight from AppTurnInput, the same snapshot the real
// worker-profile harness would see via its caller.
type docAppAgent struct {
	policy   harness.Policy
	toolExec harness.ToolExecutor
	spawner  harness.Spawner
	memStore mem.Store
	events   elog.Store
	logger   telemetry.Logger
}

// Turn implements atd.AppAgent. It builds a fresh Worker-profile harness per
// turn, exactly as conductor.Conductor builds a fresh Conductor-profile
// harness per wake, and recovers the app agent's decided action batch from
// the harness's terminal Complete.Summary (JSON-encoded []atd.Action).
func (a *docAppAgent) Turn(ctx context.Context, input atd.AppTurnInput) ([]atd.Action, error) {
	h := harness.New(harness.ProfileWorker, appCapability, a.policy, noopModel{}, a.memStore, a.events, a.toolExec, &docAgentParser{input: input}, a.spawner, a.logger)
	result, err := h.Run(ctx, input.RunID, "system", input.Objective)
	if err != nil {
		return nil, err
	}
	if result.Status != harness.StatusCompleted {
		return nil, fmt.Errorf("kernel: doc app agent turn ended %s: %s", result.Status, result.Reason)
	}
	var actions []atd.Action
	if err := json.Unmarshal([]byte(result.Summary), &actions); err != nil {
		return nil, fmt.Errorf("kernel: decode app turn action batch: %w", err)
	}
	return actions, nil
}

// docAgentParser ignores the model response entirely and decides the next
// harness action from the AppTurnInput captured at construction, the same
// scripted-fixture pattern conductor_test.go's delegateParser uses to
// exercise a harness without a real model provider.
type docAgentParser struct {
	input atd.AppTurnInput
	step  int
}

func (p *docAgentParser) Parse(resp *model.Response) (harness.NextAction, error) {
	p.step++

	if len(p.input.UnappliedPatchIDs) > 0 {
		actions := []atd.Action{
			{
				Kind:             atd.ActionCreateRevision,
				ParentRevisionID: p.input.HeadRevisionID,
				AppliedPatchIDs:  p.input.UnappliedPatchIDs,
				DocumentRef:      documentSubject,
			},
			{Kind: atd.ActionCloseRun, Reason: "document drafted and committed"},
		}
		return completeWith(actions)
	}

	if p.step == 1 {
		payload, _ := json.Marshal(map[string]string{"subject": documentSubject})
		return harness.NextAction{
			Kind: harness.ActionToolCalls,
			ToolCalls: []model.ToolCall{
				{ID: kernelid.NewMessageID(), Name: draftTool, Payload: payload},
			},
		}, nil
	}

	actions := []atd.Action{{
		Kind:            atd.ActionRequestWork,
		Capability:      draftWorkKind,
		RequestObjective: p.input.Objective,
		IdempotencyKey:  "draft-1",
	}}
	return completeWith(actions)
}

func completeWith(actions []atd.Action) (harness.NextAction, error) {
	summary, err := json.Marshal(actions)
	if err != nil {
		return harness.NextAction{}, err
	}
	return harness.NextAction{Kind: harness.ActionComplete, Summary: string(summary)}, nil
}

// delegateToDocAgent always routes the conductor's wake to the one app
// agent this demo registers. A real conductor's parser consults the model
// response and the wake context's agent tree snapshot; this fixture skips
// that and always delegates, mirroring conductor_test.go's delegateParser.
type delegateToDocAgent struct{}

func (delegateToDocAgent) Parse(resp *model.Response) (harness.NextAction, error) {
	return harness.NextAction{
		Kind:              harness.ActionDelegate,
		DelegateTarget:    appAgentID,
		DelegateObjective: "draft the quarterly report",
	}, nil
}

// completeImmediately terminates any sub-harness the demo's Spawner builds
// with an empty Complete; nothing in this demo run triggers fan_out,
// recurse, or spawn_actor_harness, but the Spawner is still wired so
// harness.New's contract is exercised end to end.
type completeImmediately struct{}

func (completeImmediately) Parse(resp *model.Response) (harness.NextAction, error) {
	return harness.NextAction{Kind: harness.ActionComplete, Summary: "[]"}, nil
}

// noopModel stands in for a real model.Client. Every parser in this demo
// ignores the model.Response entirely, so noopModel never needs to produce
// anything meaningful; it exists only to satisfy harness.New's signature,
// the same role cmd/demo/main.go's stubPlanner plays for the runtime.
type noopModel struct{}

func (noopModel) Complete(context.Context, *model.Request) (*model.Response, error) {
	return &model.Response{}, nil
}

func (noopModel) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

// draftToolCaller is the demo's mcp.Caller: it answers draft_document calls
// with a canned draft instead of reaching a real MCP server.
type draftToolCaller struct{}

func (draftToolCaller) CallTool(ctx context.Context, req mcp.CallRequest) (mcp.CallResponse, error) {
	result, _ := json.Marshal(map[string]string{"draft": "Q3 results look strong; see attached numbers."})
	return mcp.CallResponse{Result: result}, nil
}

// inprocDelegator implements a2a.Delegator by calling the dispatcher
// directly in-process, standing in for a2a/httpclient.Client when the app
// agent lives in the same binary as the conductor.
type inprocDelegator struct {
	dispatcher *atd.Dispatcher
}

func (d *inprocDelegator) Delegate(ctx context.Context, req a2a.DelegateRequest) (a2a.DelegateResponse, error) {
	err := d.dispatcher.Trigger(ctx, req.AppAgentID, atd.AppTurnInput{
		RunID:     req.RunID,
		Objective: req.Objective,
	})
	if err != nil {
		return a2a.DelegateResponse{}, err
	}
	return a2a.DelegateResponse{Accepted: true, Detail: "app turn triggered"}, nil
}

func recordEvent(ctx context.Context, events elog.Store, runID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = events.Append(ctx, elog.Event{
		EventID: kernelid.NewEventID(),
		RunID:   runID,
		Type:    elog.Type(eventType),
		Payload: data,
	})
}

func awaitQueuedItem(ctx context.Context, store sched.Store, runID string, timeout time.Duration) (sched.Item, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		items, err := store.ListByRun(ctx, runID)
		if err == nil {
			for _, it := range items {
				if it.State != sched.StateQueued {
					continue
				}
				leased, err := store.Dispatch(ctx, "capability-worker-1", 30*time.Second)
				if err == nil {
					return leased, true
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return sched.Item{}, false
}

func awaitRunClosed(ctx context.Context, events elog.Store, runID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		records, err := events.List(ctx, 0, 0)
		if err == nil {
			for _, e := range records {
				if e.RunID == runID && e.Type == elog.Type("run.closed") {
					return true
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
