// Package conductor implements the top-level orchestrator: it receives user
// objectives, creates runs, delegates to the owning app agent, and routes
// subsequent control events to the right app agent. It never executes tools
// directly and never routes workers directly — workers belong to the app
// agent that requested them.
package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"choiros.io/kernel/a2a"
	"choiros.io/kernel/agenttree"
	"choiros.io/kernel/elog"
	"choiros.io/kernel/harness"
	"choiros.io/kernel/kernelid"
)

// WakeTrigger enumerates the only signals that wake the conductor. There is
// no fifth trigger: anything else that changes kernel state waits for one
// of these to fire before the conductor looks at it.
type WakeTrigger string

const (
	// WakeRunStart is a new user objective arriving.
	WakeRunStart WakeTrigger = "run.start"
	// WakeCapabilityCompleted is an owning app agent's work item completing.
	WakeCapabilityCompleted WakeTrigger = "capability.completed.success"
	// WakeWatcherEscalation is an optional signal from an observer.
	WakeWatcherEscalation WakeTrigger = "watcher.escalation"
	// WakeActorHarnessReturned is a conductor-owned subharness returning,
	// either complete or failed.
	WakeActorHarnessReturned WakeTrigger = "actor_harness.complete_or_failed"
)

// Wake is one invocation of the conductor. Detail carries trigger-specific
// context (the work item ID for a capability completion, the escalation
// payload for a watcher signal, the subharness result for a returned
// subharness) as free text the conductor's model can read.
type Wake struct {
	Trigger   WakeTrigger
	RunID     string
	UserID    string
	Objective string // populated for WakeRunStart
	Detail    string
}

// maxSnapshotNodes bounds the agent_tree_snapshot handed to the conductor's
// model at each wake, per spec.md §4.7's deterministic-truncation
// requirement.
const maxSnapshotNodes = 50

// wakeContext is the JSON shape folded into the conductor harness's
// objective text at each wake: the trigger plus the bounded tree snapshot.
type wakeContext struct {
	Trigger   WakeTrigger        `json:"trigger"`
	Detail    string             `json:"detail,omitempty"`
	Objective string             `json:"objective,omitempty"`
	Tree      agenttree.Snapshot `json:"agent_tree_snapshot"`
}

// Conductor wakes on demand, runs exactly one bounded conductor harness
// turn, and returns. It never polls children and never blocks awaiting a
// subharness directly — any SpawnActorHarness/FanOut/Recurse issued by the
// harness during that single turn already yields on the harness's own
// mailbox per harness.Harness's non-blocking contract, and the conductor's
// own turn still returns as soon as that harness.Run call returns.
type Conductor struct {
	tracker *agenttree.Tracker
	events  elog.Store

	// newHarness constructs a fresh, single-use conductor harness for one
	// Wake call. harness.Harness is single-use by design, so Conductor holds
	// a constructor rather than a shared instance.
	newHarness func() *harness.Harness

	// directory resolves a Delegate decision's app_agent target to the
	// transport that can reach it. May be nil, in which case Wake still
	// records the conductor.action decision but does not carry it out —
	// useful for tests that only exercise the routing/budget behavior.
	directory *a2a.Directory
}

// New constructs a Conductor. tracker supplies the agent_tree_snapshot;
// newHarness must return a harness.Harness configured with
// Capability: "conductor" and Profile: harness.ProfileConductor. directory
// may be nil.
func New(tracker *agenttree.Tracker, events elog.Store, newHarness func() *harness.Harness, directory *a2a.Directory) *Conductor {
	return &Conductor{tracker: tracker, events: events, newHarness: newHarness, directory: directory}
}

// Wake runs exactly one bounded conductor turn for w and returns its
// terminal result. The turn is finite because the underlying harness run is
// bounded by harness.ProfileConductor; Wake itself does not loop or retry.
// When the turn ends in a Delegate decision, Wake carries it out over a2a
// after the harness returns — the harness's own Run call never blocks on
// the delegate transport, only Wake's trailing step does.
func (c *Conductor) Wake(ctx context.Context, w Wake) (*harness.Result, error) {
	snapshot := c.tracker.Snapshot(maxSnapshotNodes)

	wakeEvt := c.recordEvent(ctx, w.RunID, "conductor.wake", map[string]any{
		"trigger":    w.Trigger,
		"detail":     w.Detail,
		"truncated":  snapshot.Truncated,
		"node_count": len(snapshot.Nodes),
	})

	objective, err := composeObjective(w, snapshot)
	if err != nil {
		return nil, fmt.Errorf("conductor: compose wake objective: %w", err)
	}

	h := c.newHarness()
	if h.Capability != "conductor" {
		return nil, fmt.Errorf("conductor: newHarness returned capability %q, want \"conductor\"", h.Capability)
	}
	result, err := h.Run(ctx, w.RunID, w.UserID, objective)
	if err != nil || result == nil || result.Status != harness.StatusCompleted {
		return result, err
	}
	if !strings.HasPrefix(result.Summary, "delegated to ") {
		return result, nil
	}

	target, delegateObjective := c.lastDelegateAction(ctx, w.RunID, wakeEvt.Seq)
	if target == "" || c.directory == nil {
		return result, nil
	}
	del, err := c.directory.Resolve(target)
	if err != nil {
		c.recordEvent(ctx, w.RunID, "work.failed", map[string]any{"reason": err.Error(), "target": target})
		return result, nil
	}
	ack, err := del.Delegate(ctx, a2a.DelegateRequest{RunID: w.RunID, AppAgentID: target, Objective: delegateObjective})
	if err != nil {
		c.recordEvent(ctx, w.RunID, "work.failed", map[string]any{"reason": err.Error(), "target": target})
		return result, nil
	}
	c.recordEvent(ctx, w.RunID, "run.started", map[string]any{"app_agent_id": target, "accepted": ack.Accepted, "detail": ack.Detail})
	return result, nil
}

// lastDelegateAction scans events recorded after afterSeq for this run for
// the conductor.action entry harness.Harness.Run appends when it returns an
// ActionDelegate, and extracts its target/objective.
func (c *Conductor) lastDelegateAction(ctx context.Context, runID string, afterSeq int64) (target, objective string) {
	if c.events == nil {
		return "", ""
	}
	events, err := c.events.List(ctx, afterSeq, 0)
	if err != nil {
		return "", ""
	}
	for _, e := range events {
		if e.RunID != runID || e.Type != elog.Type("conductor.action") {
			continue
		}
		var payload struct {
			Kind      string `json:"kind"`
			Target    string `json:"target"`
			Objective string `json:"objective"`
		}
		if err := json.Unmarshal(e.Payload, &payload); err != nil || payload.Kind != "delegate" {
			continue
		}
		target, objective = payload.Target, payload.Objective
	}
	return target, objective
}

func composeObjective(w Wake, snapshot agenttree.Snapshot) (string, error) {
	wc := wakeContext{
		Trigger:   w.Trigger,
		Detail:    w.Detail,
		Objective: w.Objective,
		Tree:      snapshot,
	}
	payload, err := json.Marshal(wc)
	if err != nil {
		return "", err
	}
	if w.Objective != "" {
		return w.Objective + "\n\nwake_context: " + string(payload), nil
	}
	return "wake_context: " + string(payload), nil
}

func (c *Conductor) recordEvent(ctx context.Context, runID, eventType string, payload map[string]any) elog.Event {
	if c.events == nil {
		return elog.Event{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return elog.Event{}
	}
	evt, err := c.events.Append(ctx, elog.Event{
		EventID: kernelid.NewEventID(),
		RunID:   runID,
		Type:    elog.Type(eventType),
		Payload: data,
	})
	if err != nil {
		return elog.Event{}
	}
	return evt
}
