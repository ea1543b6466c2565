// Package temporal dispatches sub-harnesses as durable Temporal child
// workflows, so a spawned ActorHarness or Recurse/FanOut branch survives a
// process restart. It is grounded on the same client.Client.ExecuteWorkflow
// plus blocking WorkflowRun.Get idiom the teacher's Temporal engine and
// bedrock ledger source use.
package temporal

import (
	"context"

	"go.temporal.io/sdk/client"

	"choiros.io/kernel/harness"
	"choiros.io/kernel/kernelid"
)

// Options configures the Temporal-backed spawner.
type Options struct {
	Client       client.Client
	TaskQueue    string
	WorkflowName string
}

// Spawner starts one Temporal workflow execution per sub-harness spec and
// reports its outcome back on the parent harness's mailbox when the
// workflow completes.
type Spawner struct {
	client       client.Client
	taskQueue    string
	workflowName string
}

// New constructs a Temporal-backed Spawner.
func New(opts Options) *Spawner {
	return &Spawner{client: opts.Client, taskQueue: opts.TaskQueue, workflowName: opts.WorkflowName}
}

// Spawn implements harness.Spawner. It starts the configured workflow
// asynchronously, then blocks (in its own goroutine, never the caller's)
// until the workflow completes, delivering the terminal harness.Result.
func (s *Spawner) Spawn(ctx context.Context, spec harness.RecurseSpec, parentHarnessID string, mailbox chan<- harness.Completion) {
	id := kernelid.NewActorHarnessID(spec.Profile.Name)
	go func() {
		run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        id,
			TaskQueue: s.taskQueue,
		}, s.workflowName, spec, parentHarnessID)
		if err != nil {
			mailbox <- harness.Completion{HarnessID: id, Err: err}
			return
		}
		var result harness.Result
		if err := run.Get(ctx, &result); err != nil {
			mailbox <- harness.Completion{HarnessID: id, Err: err}
			return
		}
		if result.HarnessID == "" {
			result.HarnessID = id
		}
		mailbox <- harness.Completion{HarnessID: id, Result: &result}
	}()
}
