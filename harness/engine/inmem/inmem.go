// Package inmem dispatches sub-harnesses as plain goroutines within the same
// process. It is the development/test backend: not durable, not replay-safe,
// but requires no external engine.
package inmem

import (
	"context"

	"choiros.io/kernel/harness"
	"choiros.io/kernel/harness/engine"
	"choiros.io/kernel/kernelid"
)

// Spawner runs each sub-harness in its own goroutine, matching the teacher's
// in-memory workflow engine's "go func(){ ... }; close(done)" shape but
// delivering its outcome as a harness.Completion on the parent's mailbox
// rather than a polled handle.
type Spawner struct {
	Build engine.Build
}

// New constructs an in-memory Spawner that runs each sub-harness via build.
func New(build engine.Build) *Spawner {
	return &Spawner{Build: build}
}

// Spawn implements harness.Spawner.
func (s *Spawner) Spawn(ctx context.Context, spec harness.RecurseSpec, parentHarnessID string, mailbox chan<- harness.Completion) {
	id := kernelid.NewActorHarnessID(spec.Profile.Name)
	go func() {
		result, err := s.Build(ctx, spec)
		if result == nil {
			result = &harness.Result{HarnessID: id}
		} else if result.HarnessID == "" {
			result.HarnessID = id
		}
		mailbox <- harness.Completion{HarnessID: id, Result: result, Err: err}
	}()
}
