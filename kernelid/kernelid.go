// Package kernelid generates globally unique, prefix-tagged identifiers for
// kernel entities (events, runs, work items, revisions, patches, actor
// harnesses, sessions, turns, messages). Prefixing improves observability in
// logs, metrics, and traces without sacrificing uniqueness, following the
// same convention the kernel's host repo uses for workflow execution IDs.
package kernelid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind enumerates the entity classes that receive a prefix-tagged ID.
type Kind string

const (
	KindEvent        Kind = "evt"
	KindRun          Kind = "run"
	KindSession      Kind = "sess"
	KindTurn         Kind = "turn"
	KindWork         Kind = "work"
	KindLease        Kind = "lease"
	KindPatch        Kind = "patch"
	KindRevision     Kind = "rev"
	KindActorHarness Kind = "harn"
	KindMessage      Kind = "msg"
	KindCapability   Kind = "cap"
	KindChunk        Kind = "chunk"
	KindCitation     Kind = "cite"
	KindIdempotency  Kind = "idem"
)

// New returns a new identifier for the given kind, formatted as
// "<kind>-<uuid>". The uuid is version 7, so identifiers sharing the same
// prefix sort lexicographically by creation time (millisecond resolution).
// scope, when non-empty, is normalized (dots replaced with dashes) and folded
// into the prefix to improve traceability, mirroring how run identifiers are
// scoped to their owning agent.
func New(kind Kind, scope string) string {
	id := uuid.Must(uuid.NewV7()).String()
	if scope == "" {
		return fmt.Sprintf("%s-%s", kind, id)
	}
	normalized := strings.ReplaceAll(scope, ".", "-")
	return fmt.Sprintf("%s-%s-%s", kind, normalized, id)
}

// NewEventID returns a new event identifier.
func NewEventID() string { return New(KindEvent, "") }

// NewRunID returns a new run identifier scoped to the owning conductor or
// capability name, if known.
func NewRunID(scope string) string { return New(KindRun, scope) }

// NewSessionID returns a new session identifier.
func NewSessionID() string { return New(KindSession, "") }

// NewTurnID returns a new app-turn identifier.
func NewTurnID() string { return New(KindTurn, "") }

// NewWorkID returns a new work item identifier.
func NewWorkID() string { return New(KindWork, "") }

// NewLeaseID returns a new lease identifier.
func NewLeaseID() string { return New(KindLease, "") }

// NewPatchID returns a new patch identifier.
func NewPatchID() string { return New(KindPatch, "") }

// NewRevisionID returns a new revision identifier.
func NewRevisionID() string { return New(KindRevision, "") }

// NewActorHarnessID returns a new actor harness identifier scoped to its
// profile name.
func NewActorHarnessID(profile string) string { return New(KindActorHarness, profile) }

// NewMessageID returns a new mailbox message identifier.
func NewMessageID() string { return New(KindMessage, "") }

// NewChunkID returns a new memory chunk identifier.
func NewChunkID() string { return New(KindChunk, "") }

// NewCitationID returns a new citation edge identifier.
func NewCitationID() string { return New(KindCitation, "") }
