// Package engine defines the pluggable dispatch abstraction the actor
// harness uses to run sub-harnesses (FanOut branches, Recurse, and
// SpawnActorHarness). harness.Harness never knows which backend ran a
// sub-harness; it only sees harness.Completion values arrive on its mailbox.
package engine

import (
	"context"

	"choiros.io/kernel/harness"
)

// Build constructs and fully runs one sub-harness for spec, returning its
// terminal Result. Implementations of harness.Spawner call Build on whatever
// backend they dispatch to (a goroutine, a durable workflow, ...).
type Build func(ctx context.Context, spec harness.RecurseSpec) (*harness.Result, error)
