// Package atd implements the App-Turn Dispatcher: it serializes an owning
// app agent's semantic decisions per run, invoking it with a typed
// AppTurnInput whenever new facts arrive (patches submitted, work
// completed, user input) and applying its typed AppTurnActions atomically.
package atd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"choiros.io/kernel/elog"
	"choiros.io/kernel/kernelid"
	"choiros.io/kernel/rev"
	"choiros.io/kernel/sched"
)

// AppTurnInput is the snapshot handed to an app agent at the start of a turn.
type AppTurnInput struct {
	RunID             string
	Objective         string
	HeadRevisionID    string
	NewEventsSinceSeq int64
	UnappliedPatchIDs []string
	OpenWorkSummary   string
}

// ActionKind enumerates the AppTurnActions an app agent may emit.
type ActionKind string

const (
	ActionRequestWork    ActionKind = "request_work"
	ActionCreateRevision ActionKind = "create_revision"
	ActionCloseRun       ActionKind = "close_run"
	ActionNoop           ActionKind = "noop"
)

// Action is one entry in an app agent's turn batch. Exactly the fields for
// Kind are meaningful.
type Action struct {
	Kind ActionKind

	// ActionRequestWork
	Capability      string
	RequestObjective string
	DependsOn       []string
	IdempotencyKey  string

	// ActionCreateRevision
	ParentRevisionID  string
	AppliedPatchIDs   []string
	RejectedPatchIDs  []string
	DocumentRef       string

	// ActionCloseRun
	Reason string
}

// AppAgent decides what to do for a run given its current turn input. It is
// the semantic decision-maker the dispatcher serializes calls to; in
// practice this is backed by a harness.Harness running the Worker profile,
// whose terminal Complete carries the encoded action batch.
type AppAgent interface {
	Turn(ctx context.Context, input AppTurnInput) ([]Action, error)
}

// Errors returned by Dispatcher.
var (
	ErrRunClosed         = errors.New("atd: run is closed")
	ErrIdempotencyKeyUsed = errors.New("atd: idempotency key already used for a different work request")
)

// Dispatcher serializes app-turn invocations per run and applies their
// action batches atomically against REV, SCHED, and ELog.
type Dispatcher struct {
	agents map[string]AppAgent // app_id -> owning app agent
	rev    rev.Store
	sched  sched.Store
	events elog.Store

	mu      sync.Mutex
	running map[string]bool // run_id -> a turn is currently executing
	pending map[string]bool // run_id -> a trigger arrived while running, coalesced
	closed  map[string]bool // run_id -> close_run has been applied
}

// New constructs a Dispatcher. agents maps an app_id to the AppAgent that
// owns runs dispatched to it.
func New(agents map[string]AppAgent, revStore rev.Store, schedStore sched.Store, events elog.Store) *Dispatcher {
	return &Dispatcher{
		agents:  agents,
		rev:     revStore,
		sched:   schedStore,
		events:  events,
		running: make(map[string]bool),
		pending: make(map[string]bool),
		closed:  make(map[string]bool),
	}
}

// Trigger requests a turn for runID owned by appID. If a turn for runID is
// already in flight, the trigger is coalesced: at most one more turn runs
// after the current one finishes, regardless of how many triggers arrive
// meanwhile. Trigger returns once the turn it caused (or coalesced into) has
// been scheduled; it does not wait for the turn to complete.
func (d *Dispatcher) Trigger(ctx context.Context, appID string, input AppTurnInput) error {
	agent, ok := d.agents[appID]
	if !ok {
		return fmt.Errorf("atd: no app agent registered for %q", appID)
	}

	d.mu.Lock()
	if d.closed[input.RunID] {
		d.mu.Unlock()
		return ErrRunClosed
	}
	if d.running[input.RunID] {
		d.pending[input.RunID] = true
		d.mu.Unlock()
		return nil
	}
	d.running[input.RunID] = true
	d.mu.Unlock()

	go d.runTurns(ctx, appID, agent, input)
	return nil
}

// runTurns executes one turn, then immediately executes another if a
// trigger was coalesced while the first was running, repeating until no
// further triggers arrived during the most recent turn.
func (d *Dispatcher) runTurns(ctx context.Context, appID string, agent AppAgent, input AppTurnInput) {
	for {
		d.executeTurn(ctx, appID, agent, input)

		d.mu.Lock()
		if d.pending[input.RunID] {
			d.pending[input.RunID] = false
			d.mu.Unlock()
			// Refresh the head revision for the next turn; callers that need
			// fresher NewEventsSinceSeq/UnappliedPatchIDs should re-Trigger
			// with updated values, but a coalesced turn still re-reads the
			// head so create_revision always CASes against current state.
			if head, err := d.rev.Head(ctx, input.RunID); err == nil {
				input.HeadRevisionID = head.RevisionID
			}
			continue
		}
		d.running[input.RunID] = false
		d.mu.Unlock()
		return
	}
}

// executeTurn invokes the app agent once and applies its action batch
// atomically: either every action in the batch is applied and a
// corresponding event is appended for each, or none are, per
// create_revision's stale_parent contract.
func (d *Dispatcher) executeTurn(ctx context.Context, appID string, agent AppAgent, input AppTurnInput) {
	d.recordEvent(ctx, input.RunID, "app.turn.started", map[string]any{"app_id": appID})

	actions, err := agent.Turn(ctx, input)
	if err != nil {
		d.recordEvent(ctx, input.RunID, "app.turn.failed", map[string]any{"app_id": appID, "error": err.Error()})
		return
	}

	if err := d.applyBatch(ctx, input.RunID, actions); err != nil {
		d.recordEvent(ctx, input.RunID, "app.turn.failed", map[string]any{"app_id": appID, "error": err.Error()})
		return
	}
	d.recordEvent(ctx, input.RunID, "app.turn.completed", map[string]any{"app_id": appID, "action_count": len(actions)})
}

// applyBatch applies every action in actions. create_revision is validated
// against the current head before anything is applied so that a
// stale_parent failure fails the whole batch with no partial effect;
// request_work and close_run are applied only after that check passes.
func (d *Dispatcher) applyBatch(ctx context.Context, runID string, actions []Action) error {
	for _, a := range actions {
		if a.Kind == ActionCreateRevision {
			head, err := d.rev.Head(ctx, runID)
			if err != nil && !errors.Is(err, rev.ErrNoHead) {
				return err
			}
			if a.ParentRevisionID != head.RevisionID {
				return rev.ErrStaleParent
			}
		}
	}

	for _, a := range actions {
		switch a.Kind {
		case ActionRequestWork:
			if err := d.applyRequestWork(ctx, runID, a); err != nil {
				return err
			}
		case ActionCreateRevision:
			if err := d.applyCreateRevision(ctx, runID, a); err != nil {
				return err
			}
		case ActionCloseRun:
			d.mu.Lock()
			d.closed[runID] = true
			d.mu.Unlock()
			d.recordEvent(ctx, runID, "run.closed", map[string]any{"reason": a.Reason})
		case ActionNoop:
			// Nothing to apply.
		default:
			return fmt.Errorf("atd: unrecognized action kind %q", a.Kind)
		}
	}
	return nil
}

func (d *Dispatcher) applyRequestWork(ctx context.Context, runID string, a Action) error {
	workID := a.IdempotencyKey
	if workID == "" {
		workID = kernelid.NewWorkID()
	} else if existing, err := d.sched.Get(ctx, workID); err == nil {
		if existing.RunID != runID || existing.Kind != a.Capability {
			return ErrIdempotencyKeyUsed
		}
	} else if !errors.Is(err, sched.ErrNotFound) {
		return err
	}
	payload, err := json.Marshal(map[string]any{"objective": a.RequestObjective, "depends_on": a.DependsOn})
	if err != nil {
		return err
	}
	item, err := d.sched.RequestWork(ctx, sched.Item{
		WorkID:  workID,
		RunID:   runID,
		Kind:    a.Capability,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	d.recordEvent(ctx, runID, "work.requested", map[string]any{
		"work_id":    item.WorkID,
		"capability": a.Capability,
		"objective":  a.RequestObjective,
	})
	return nil
}

func (d *Dispatcher) applyCreateRevision(ctx context.Context, runID string, a Action) error {
	parent := a.ParentRevisionID
	for _, patchID := range a.AppliedPatchIDs {
		r, err := d.rev.CommitRevision(ctx, runID, parent, patchID)
		if err != nil {
			return err
		}
		parent = r.RevisionID
		d.recordEvent(ctx, runID, "patch.applied", map[string]any{"patch_id": patchID, "revision_id": r.RevisionID})
		d.recordEvent(ctx, runID, "revision.created", map[string]any{"revision_id": r.RevisionID, "document_ref": a.DocumentRef})
		d.recordEvent(ctx, runID, "revision.head_changed", map[string]any{"head_revision_id": r.RevisionID})
	}
	for _, patchID := range a.RejectedPatchIDs {
		d.recordEvent(ctx, runID, "patch.rejected", map[string]any{"patch_id": patchID})
	}
	return nil
}

func (d *Dispatcher) recordEvent(ctx context.Context, runID, eventType string, payload map[string]any) {
	if d.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = d.events.Append(ctx, elog.Event{
		EventID: kernelid.NewEventID(),
		RunID:   runID,
		Type:    elog.Type(eventType),
		Payload: data,
	})
}
