// Package rev implements the revision store: an append-only patch log plus a
// single-head linear revision chain. Every commit is a compare-and-swap on
// the current head, giving callers optimistic concurrency control without a
// separate locking protocol.
package rev

import (
	"context"
	"errors"
	"time"
)

// Patch is one immutable, append-only unit of change content. Patches are
// recorded independently of whether they are ever committed into the
// revision chain, so a patch can be authored, reviewed, and discarded
// without perturbing the head.
type Patch struct {
	PatchID   string
	Subject   string // the logical document/resource this patch applies to
	Content   []byte
	CreatedAt time.Time
}

// Revision is one node in the linear chain for a given subject. ParentID is
// empty only for the first revision of a subject.
type Revision struct {
	RevisionID string
	Subject    string
	ParentID   string
	PatchID    string
	CreatedAt  time.Time
}

// Errors returned by Store implementations.
var (
	// ErrStaleParent indicates CommitRevision was called with a ParentID that
	// no longer matches the subject's current head; the caller must re-read
	// the head and retry.
	ErrStaleParent = errors.New("rev: stale parent revision")
	// ErrPatchNotFound indicates the referenced patch does not exist.
	ErrPatchNotFound = errors.New("rev: patch not found")
	// ErrNoHead indicates the subject has no committed revisions yet.
	ErrNoHead = errors.New("rev: subject has no head revision")
	// ErrPatchIDRequired indicates RecordPatch was called without a PatchID.
	ErrPatchIDRequired = errors.New("rev: patch_id is required")
	// ErrSubjectRequired indicates an operation was called without a subject.
	ErrSubjectRequired = errors.New("rev: subject is required")
)

// Store is the revision store. Implementations must guarantee:
//   - RecordPatch is idempotent by PatchID: appending the same PatchID twice
//     returns the original patch, unchanged.
//   - CommitRevision succeeds only if parentRevisionID equals the subject's
//     current head (or is empty and the subject has no head yet); otherwise
//     it returns ErrStaleParent without mutating state.
//   - Head reads are linearizable with respect to CommitRevision: once a
//     commit returns successfully, every subsequent Head call for that
//     subject observes it.
type Store interface {
	// RecordPatch appends p to the patch log, or returns the existing patch
	// if p.PatchID was already recorded.
	RecordPatch(ctx context.Context, p Patch) (Patch, error)

	// GetPatch returns the patch with the given ID.
	GetPatch(ctx context.Context, patchID string) (Patch, error)

	// CommitRevision creates a new revision for subject built from patchID,
	// linked to parentRevisionID. Fails with ErrStaleParent if
	// parentRevisionID does not match the subject's current head.
	CommitRevision(ctx context.Context, subject, parentRevisionID, patchID string) (Revision, error)

	// Head returns the current head revision for subject, or ErrNoHead if the
	// subject has never been committed to.
	Head(ctx context.Context, subject string) (Revision, error)

	// History returns the revision chain for subject in oldest-to-newest
	// order, up to limit entries counted from the head backward. A limit <= 0
	// means no limit.
	History(ctx context.Context, subject string, limit int) ([]Revision, error)
}
