// Package harness implements the actor harness: a bounded, supervised loop
// that drives a single agent or worker through plan/tool-call/observe steps
// against a model, a capability's tool allowlist, and the memory substrate,
// until it emits a terminal action or exhausts its budget.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"choiros.io/kernel/elog"
	"choiros.io/kernel/harness/model"
	"choiros.io/kernel/harness/tools"
	"choiros.io/kernel/harness/transcript"
	"choiros.io/kernel/kernelid"
	"choiros.io/kernel/mem"
	"choiros.io/kernel/telemetry"
)

// Profile bounds a harness run. The three profiles in SPEC_FULL.md differ
// only in these three numbers; the loop itself is identical for all of them.
type Profile struct {
	Name            string
	MaxSteps        int
	TimeoutBudget   time.Duration
	MaxRecurseDepth int
}

var (
	// ProfileConductor bounds the conductor's own brief routing decisions.
	ProfileConductor = Profile{Name: "conductor", MaxSteps: 10, TimeoutBudget: 10 * time.Second, MaxRecurseDepth: 1}

	// ProfileWorker bounds a full app-agent or capability worker task.
	ProfileWorker = Profile{Name: "worker", MaxSteps: 50, TimeoutBudget: 300 * time.Second, MaxRecurseDepth: 2}

	// ProfileActorHarness bounds a conductor-owned ephemeral subharness
	// handling one multi-step sub-objective.
	ProfileActorHarness = Profile{Name: "actor_harness", MaxSteps: 25, TimeoutBudget: 120 * time.Second, MaxRecurseDepth: 1}
)

// ActionKind enumerates the terminal and non-terminal actions a step can
// produce.
type ActionKind string

const (
	ActionToolCalls         ActionKind = "tool_calls"
	ActionFanOut            ActionKind = "fan_out"
	ActionRecurse           ActionKind = "recurse"
	ActionSpawnActorHarness ActionKind = "spawn_actor_harness"
	ActionDelegate          ActionKind = "delegate"
	ActionComplete          ActionKind = "complete"
	ActionBlock             ActionKind = "block"
)

// RecurseSpec describes a sub-harness to spawn, whether via FanOut, Recurse,
// or SpawnActorHarness.
type RecurseSpec struct {
	Objective  string
	Capability string
	Profile    Profile
}

// NextAction is the single typed action a step produces. Exactly one of the
// Kind-specific fields is populated, matching Kind.
type NextAction struct {
	Kind ActionKind

	ToolCalls []model.ToolCall // ActionToolCalls

	Branches []RecurseSpec // ActionFanOut
	Recurse  *RecurseSpec  // ActionRecurse
	Spawn    *RecurseSpec  // ActionSpawnActorHarness

	DelegateTarget    string // ActionDelegate
	DelegateObjective string // ActionDelegate

	Summary string // ActionComplete
	Reason  string // ActionBlock
}

// Status is the terminal disposition of a harness run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusBlocked   Status = "blocked"
)

// Result is the typed, terminal output of a harness run.
type Result struct {
	HarnessID string
	Status    Status
	Summary   string
	Reason    string
	Steps     int
	// BudgetExhausted is set when the loop terminated because MaxSteps or
	// TimeoutBudget was reached rather than because the model emitted
	// Complete or Block.
	BudgetExhausted bool
}

// Completion is delivered on a parent harness's mailbox when a spawned
// sub-harness (FanOut branch, Recurse, or SpawnActorHarness) finishes.
type Completion struct {
	HarnessID string
	Result    *Result
	Err       error
}

// Spawner starts a sub-harness asynchronously and arranges for its
// Completion to be delivered on mailbox. Spawn must not block the caller:
// the harness loop yields on mailbox rather than polling children, per the
// non-blocking contract.
type Spawner interface {
	Spawn(ctx context.Context, spec RecurseSpec, parentHarnessID string, mailbox chan<- Completion)
}

// ToolExecutor executes a single tool call and returns its provider-facing
// result part.
type ToolExecutor interface {
	Execute(ctx context.Context, call model.ToolCall) (model.ToolResultPart, error)
}

// ActionParser turns a model response into a typed NextAction. Provider
// responses carry the action as a single tool call to a reserved
// control-plane tool name (e.g. "finished", "block"); the parser owns that
// convention so the loop itself stays provider-agnostic.
type ActionParser interface {
	Parse(resp *model.Response) (NextAction, error)
}

// Policy enforces the allowed_tool_names capability policy: which tool
// names a capability's model may invoke.
type Policy struct {
	AllowedTools map[string]map[tools.Ident]struct{}
}

// NewPolicy builds a Policy from a plain capability -> allowed tool names map.
func NewPolicy(allowed map[string][]tools.Ident) Policy {
	p := Policy{AllowedTools: make(map[string]map[tools.Ident]struct{}, len(allowed))}
	for capability, names := range allowed {
		set := make(map[tools.Ident]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		p.AllowedTools[capability] = set
	}
	return p
}

// Allowed reports whether capability may invoke the named tool.
func (p Policy) Allowed(capability string, name tools.Ident) bool {
	set, ok := p.AllowedTools[capability]
	if !ok {
		return false
	}
	_, ok = set[name]
	return ok
}

// ErrDisallowedTool describes a tool call that names a tool not in the
// capability's allowlist. Run does not return it: once the one permitted
// correction retry has been spent, Run ends with a StatusBlocked Result whose
// Reason names the disallowed tool.
var ErrDisallowedTool = errors.New("harness: tool call not permitted by capability policy")

// Harness drives one agent or worker through the step loop. Construct one
// per run via New; a Harness is single-use.
type Harness struct {
	ID         string
	Profile    Profile
	Capability string

	Policy  Policy
	Model   model.Client
	Mem     mem.Store
	Events  elog.Store
	Tools   ToolExecutor
	Parser  ActionParser
	Spawner Spawner
	Logger  telemetry.Logger

	// ContextTokenBudget bounds the size of the ContextPack composed at each
	// step. Defaults to 4000 when zero.
	ContextTokenBudget int
}

// New constructs a Harness for one bounded run of the given profile and
// capability.
func New(profile Profile, capability string, policy Policy, modelClient model.Client, memStore mem.Store, events elog.Store, toolExec ToolExecutor, parser ActionParser, spawner Spawner, logger telemetry.Logger) *Harness {
	return &Harness{
		ID:         kernelid.NewActorHarnessID(profile.Name),
		Profile:    profile,
		Capability: capability,
		Policy:     policy,
		Model:      modelClient,
		Mem:        memStore,
		Events:     events,
		Tools:      toolExec,
		Parser:     parser,
		Spawner:    spawner,
		Logger:     telemetry.NewCapabilityLogger(logger, capability),
	}
}

const defaultContextTokenBudget = 4000

// Run executes the step loop for objective until a terminal action is
// produced or the profile's budget is exhausted. Panics inside the loop are
// recovered and surfaced as a work.failed event plus a Blocked result.
func (h *Harness) Run(ctx context.Context, runID, userID, objective string) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.recordEvent(ctx, runID, "work.failed", map[string]any{
				"harness_id": h.ID,
				"capability": h.Capability,
				"panic":      fmt.Sprint(r),
			})
			result = &Result{HarnessID: h.ID, Status: StatusBlocked, Reason: "harness panicked"}
			err = nil
		}
	}()

	budget := h.ContextTokenBudget
	if budget <= 0 {
		budget = defaultContextTokenBudget
	}
	deadline := time.Now().Add(h.Profile.TimeoutBudget)
	mailbox := make(chan Completion, 8)

	history, err := h.rebuildHistory(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("harness: rebuild transcript: %w", err)
	}
	var retriedCorrection bool

	for step := 1; ; step++ {
		if step > h.Profile.MaxSteps || time.Now().After(deadline) {
			return h.budgetExhausted(ctx, runID, step), nil
		}

		snapshot, err := h.Mem.ContextPack(ctx, objective, userID, budget)
		if err != nil {
			return nil, fmt.Errorf("harness: compose context pack: %w", err)
		}

		req := &model.Request{
			RunID:      runID,
			Capability: h.Capability,
			Messages:   append(contextMessages(snapshot), history...),
		}
		resp, err := h.Model.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("harness: model completion: %w", err)
		}

		action, err := h.Parser.Parse(resp)
		if err != nil {
			return nil, fmt.Errorf("harness: parse action: %w", err)
		}

		switch action.Kind {
		case ActionToolCalls:
			if name, ok := h.firstDisallowed(action.ToolCalls); ok {
				if retriedCorrection {
					return &Result{HarnessID: h.ID, Status: StatusBlocked, Reason: fmt.Sprintf("disallowed tool %q after correction retry", name)}, nil
				}
				retriedCorrection = true
				history = append(history, correctionMessage(name))
				continue
			}
			msgs, err := h.executeTools(ctx, runID, resp.Content, action.ToolCalls)
			if err != nil {
				return nil, err
			}
			history = append(history, msgs...)

		case ActionFanOut:
			if h.Profile.MaxRecurseDepth < 1 {
				return &Result{HarnessID: h.ID, Status: StatusBlocked, Reason: "fan_out exceeds max_recurse_depth"}, nil
			}
			for _, branch := range action.Branches {
				h.Spawner.Spawn(ctx, branch, h.ID, mailbox)
			}
			msgs, err := h.awaitCompletions(ctx, runID, mailbox, len(action.Branches))
			if err != nil {
				return nil, err
			}
			history = append(history, msgs...)

		case ActionRecurse:
			if action.Recurse == nil {
				return nil, errors.New("harness: recurse action missing spec")
			}
			if h.Profile.MaxRecurseDepth < 1 {
				return &Result{HarnessID: h.ID, Status: StatusBlocked, Reason: "recurse exceeds max_recurse_depth"}, nil
			}
			h.Spawner.Spawn(ctx, *action.Recurse, h.ID, mailbox)
			msgs, err := h.awaitCompletions(ctx, runID, mailbox, 1)
			if err != nil {
				return nil, err
			}
			history = append(history, msgs...)

		case ActionSpawnActorHarness:
			if h.Capability != "conductor" {
				return &Result{HarnessID: h.ID, Status: StatusBlocked, Reason: "spawn_actor_harness is conductor-only"}, nil
			}
			if action.Spawn == nil {
				return nil, errors.New("harness: spawn_actor_harness action missing spec")
			}
			h.Spawner.Spawn(ctx, *action.Spawn, h.ID, mailbox)
			msgs, err := h.awaitCompletions(ctx, runID, mailbox, 1)
			if err != nil {
				return nil, err
			}
			history = append(history, msgs...)

		case ActionDelegate:
			if h.Capability != "conductor" {
				return &Result{HarnessID: h.ID, Status: StatusBlocked, Reason: "delegate is conductor-only"}, nil
			}
			h.recordEvent(ctx, runID, "conductor.action", map[string]any{
				"kind":      "delegate",
				"target":    action.DelegateTarget,
				"objective": action.DelegateObjective,
			})
			return &Result{HarnessID: h.ID, Status: StatusCompleted, Summary: "delegated to " + action.DelegateTarget, Steps: step}, nil

		case ActionComplete:
			h.recordEvent(ctx, runID, "actor_harness.complete", map[string]any{"harness_id": h.ID, "summary": action.Summary})
			return &Result{HarnessID: h.ID, Status: StatusCompleted, Summary: action.Summary, Steps: step}, nil

		case ActionBlock:
			h.recordEvent(ctx, runID, "actor_harness.failed", map[string]any{"harness_id": h.ID, "reason": action.Reason})
			return &Result{HarnessID: h.ID, Status: StatusBlocked, Reason: action.Reason, Steps: step}, nil

		default:
			return nil, fmt.Errorf("harness: unrecognized action kind %q", action.Kind)
		}
	}
}

func (h *Harness) budgetExhausted(ctx context.Context, runID string, steps int) *Result {
	h.recordEvent(ctx, runID, "actor_harness.complete", map[string]any{
		"harness_id": h.ID,
		"summary":    "budget exhausted",
		"steps":      steps,
	})
	return &Result{HarnessID: h.ID, Status: StatusCompleted, Summary: "budget exhausted", Steps: steps, BudgetExhausted: true}
}

func (h *Harness) firstDisallowed(calls []model.ToolCall) (tools.Ident, bool) {
	for _, c := range calls {
		if !h.Policy.Allowed(h.Capability, c.Name) {
			return c.Name, true
		}
	}
	return "", false
}

func correctionMessage(name tools.Ident) *model.Message {
	return &model.Message{
		Role: model.ConversationRoleUser,
		Parts: []model.Part{model.TextPart{
			Text: fmt.Sprintf("tool contract violation: %q is not permitted for this capability; choose only from the allowed tool set", name),
		}},
	}
}

// executeTools folds the assistant's thinking/text content together with its
// tool_use declarations into one assistant message via a transcript.Ledger,
// executes each call, and appends a user message of tool_result parts. Using
// the ledger (rather than hand-building []*model.Message, as a naive
// implementation would) guarantees the thinking-first, tool_use/tool_result
// ordering Anthropic's Messages API requires, and it is what lets content
// survive into the transcript instead of being dropped after the action
// parser consumes resp.
//
// Every part is also recorded to the event log in the transcript package's
// event shape so a restarted harness can rebuild this exact history via
// rebuildHistory instead of losing context mid-turn.
func (h *Harness) executeTools(ctx context.Context, runID string, content []model.Message, calls []model.ToolCall) ([]*model.Message, error) {
	led := transcript.NewLedger()
	var hasThinking bool
	for _, m := range content {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.ThinkingPart:
				hasThinking = true
				led.AppendThinking(transcript.ThinkingPart{Text: v.Text, Signature: v.Signature, Redacted: v.Redacted, Index: v.Index, Final: v.Final})
				h.recordEvent(ctx, runID, string(transcript.EventThinking), map[string]any{
					"text": v.Text, "signature": v.Signature, "content_index": v.Index, "final": v.Final,
				})
			case model.TextPart:
				led.AppendText(v.Text)
				h.recordEvent(ctx, runID, string(transcript.EventAssistantMessage), map[string]any{"message": v.Text})
			}
		}
	}

	results := make([]transcript.ToolResultSpec, 0, len(calls))
	for _, call := range calls {
		var input any
		if len(call.Payload) > 0 {
			_ = json.Unmarshal(call.Payload, &input)
		}
		led.DeclareToolUse(call.ID, string(call.Name), input)
		h.recordEvent(ctx, runID, string(transcript.EventToolCall), map[string]any{
			"tool_call_id": call.ID, "tool_name": string(call.Name), "payload": input,
		})

		part, err := h.Tools.Execute(ctx, call)
		if err != nil {
			return nil, fmt.Errorf("harness: execute tool %s: %w", call.Name, err)
		}
		results = append(results, transcript.ToolResultSpec{ToolUseID: part.ToolUseID, Content: part.Content, IsError: part.IsError})

		resultEvent := map[string]any{"tool_call_id": part.ToolUseID, "tool_name": string(call.Name)}
		if part.IsError {
			resultEvent["error"] = part.Content
		} else {
			resultEvent["result"] = part.Content
		}
		h.recordEvent(ctx, runID, string(transcript.EventToolResult), resultEvent)

		h.recordEvent(ctx, runID, "work.completed", map[string]any{
			"harness_id": h.ID,
			"tool":       string(call.Name),
			"call_id":    call.ID,
		})
	}
	led.AppendUserToolResults(results)
	msgs := led.BuildMessages()
	if err := transcript.ValidateToolHandshake(msgs, hasThinking); err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	return msgs, nil
}

// rebuildHistory replays any transcript events already recorded for runID so
// a harness picking a turn back up (e.g. after a process restart) continues
// from the same message history instead of starting the model context over,
// per SPEC_FULL.md's session/turn resume supplement. Returns nil when there
// is nothing to replay, which is the common case for a fresh run.
func (h *Harness) rebuildHistory(ctx context.Context, runID string) ([]*model.Message, error) {
	if h.Events == nil {
		return nil, nil
	}
	raw, err := h.Events.List(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	var events []transcript.Event
	for _, e := range raw {
		if e.RunID != runID {
			continue
		}
		te, ok := toTranscriptEvent(e)
		if !ok {
			continue
		}
		events = append(events, te)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return transcript.BuildMessagesFromEvents(events), nil
}

// transcriptEventTypes are the elog.Type values rebuildHistory knows how to
// replay; every other event type recorded by the harness (work.completed,
// actor_harness.complete, ...) is an operational observation, not part of
// the model conversation, and is skipped.
var transcriptEventTypes = map[elog.Type]transcript.EventType{
	elog.Type(transcript.EventThinking):        transcript.EventThinking,
	elog.Type(transcript.EventAssistantMessage): transcript.EventAssistantMessage,
	elog.Type(transcript.EventToolCall):         transcript.EventToolCall,
	elog.Type(transcript.EventToolResult):       transcript.EventToolResult,
}

func toTranscriptEvent(e elog.Event) (transcript.Event, bool) {
	kind, ok := transcriptEventTypes[e.Type]
	if !ok {
		return transcript.Event{}, false
	}
	var data map[string]any
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &data); err != nil {
			return transcript.Event{}, false
		}
	}
	return transcript.Event{Type: kind, Timestamp: e.CreatedAt, Data: data}, true
}

// awaitCompletions blocks on mailbox, without polling, until want
// completions have arrived, then returns them as an ordered observation
// message. It still honors ctx cancellation.
func (h *Harness) awaitCompletions(ctx context.Context, runID string, mailbox chan Completion, want int) ([]*model.Message, error) {
	completions := make([]Completion, 0, want)
	for len(completions) < want {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c := <-mailbox:
			completions = append(completions, c)
		}
	}
	sort.Slice(completions, func(i, j int) bool { return completions[i].HarnessID < completions[j].HarnessID })

	summary := make([]map[string]any, 0, len(completions))
	for _, c := range completions {
		entry := map[string]any{"harness_id": c.HarnessID}
		if c.Err != nil {
			entry["error"] = c.Err.Error()
		} else if c.Result != nil {
			entry["status"] = c.Result.Status
			entry["summary"] = c.Result.Summary
			entry["reason"] = c.Result.Reason
		}
		summary = append(summary, entry)
		h.recordEvent(ctx, runID, "actor_harness.complete", entry)
	}
	payload, _ := json.Marshal(summary)
	return []*model.Message{{
		Role:  model.ConversationRoleUser,
		Parts: []model.Part{model.TextPart{Text: string(payload)}},
	}}, nil
}

func (h *Harness) recordEvent(ctx context.Context, runID, eventType string, payload map[string]any) {
	if h.Events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if _, err := h.Events.Append(ctx, elog.Event{
		EventID: kernelid.NewEventID(),
		RunID:   runID,
		Type:    elog.Type(eventType),
		Payload: data,
	}); err != nil {
		h.Logger.Warn(ctx, "harness: failed to record event", "run_id", runID, "type", eventType, "error", err)
	}
}

// contextMessages renders a mem.ContextSnapshot as the leading system/user
// messages for a step's model request.
func contextMessages(snapshot mem.ContextSnapshot) []*model.Message {
	if len(snapshot.Items) == 0 {
		return nil
	}
	var sb []byte
	sb = append(sb, []byte("relevant context:\n")...)
	for _, item := range snapshot.Items {
		sb = append(sb, []byte(fmt.Sprintf("- [%s score=%.3f] %s\n", item.Record.RecordID, item.Score, item.Record.Text))...)
	}
	if snapshot.Truncated {
		sb = append(sb, []byte("(context truncated to fit token budget)\n")...)
	}
	return []*model.Message{{
		Role:  model.ConversationRoleSystem,
		Parts: []model.Part{model.TextPart{Text: string(sb)}},
	}}
}
