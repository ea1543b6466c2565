// Package agenttree projects the live shape of the agent hierarchy (who is
// running, who they report to, what they're waiting on) from signals the
// rest of the kernel already emits, so the conductor can be woken with a
// bounded snapshot of it instead of polling every component directly.
package agenttree

import (
	"sort"
	"sync"
	"time"
)

// Status is a node's current lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RequestKind enumerates the typed request primitive a node may attach to
// its node entry (spec.md's v0 request primitive).
type RequestKind string

const (
	RequestNeedInput    RequestKind = "need_input"
	RequestApproval     RequestKind = "approval"
	RequestRedispatch   RequestKind = "redispatch"
	RequestReplanHint   RequestKind = "replan_hint"
)

// Request is a typed message a worker or app agent has attached to its node,
// informing the conductor's next wake without being an independent
// escalation subsystem.
type Request struct {
	Kind      RequestKind
	DedupeKey string
	TTL       time.Duration
	CreatedAt time.Time
}

// Node is one entry in the agent tree: an app agent, worker, or harness
// instance and its current relationship to its parent.
type Node struct {
	AgentID        string
	Role           string
	ParentAgentID  string
	Status         Status
	LeaseOwner     string
	LeaseExpiresAt time.Time
	LastSignalTime time.Time
	LastSignalKind string
	ActiveRunID    string
	Request        *Request
}

// Snapshot is the bounded view of the tree handed to the conductor at wake
// time. Truncated reports whether entries were dropped to fit budget.
type Snapshot struct {
	Nodes     []Node
	Truncated bool
}

// Tracker maintains the live agent tree in memory, updated as the rest of
// the kernel reports signals (leases granted, harnesses completing, work
// items changing state). It follows the same mutex-protected-map shape as
// the kernel's other in-memory stores (rev/inmem, sched/inmem, mem/inmem).
type Tracker struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{nodes: make(map[string]Node)}
}

// Upsert records or updates a node's current state. Callers pass the full
// Node each time; Tracker does not merge partial updates.
func (t *Tracker) Upsert(n Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.AgentID] = n
}

// Remove drops a node from the tree, e.g. once its completion has been
// observed by the conductor and it no longer needs representation.
func (t *Tracker) Remove(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, agentID)
}

// Snapshot returns up to maxNodes entries, truncating the oldest
// LastSignalTime first when the tree exceeds budget, per spec.md's
// deterministic-truncation requirement for the wake-context contract.
func (t *Tracker) Snapshot(maxNodes int) Snapshot {
	t.mu.RLock()
	all := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		all = append(all, n)
	}
	t.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastSignalTime.Equal(all[j].LastSignalTime) {
			return all[i].LastSignalTime.After(all[j].LastSignalTime)
		}
		return all[i].AgentID < all[j].AgentID
	})

	if maxNodes <= 0 || len(all) <= maxNodes {
		return Snapshot{Nodes: all}
	}
	return Snapshot{Nodes: all[:maxNodes], Truncated: true}
}
