// Package inmem provides an in-memory implementation of rev.Store for
// testing and local development. All operations are thread-safe via
// sync.RWMutex. Records are defensively copied on read and write to prevent
// accidental mutation of stored data.
package inmem

import (
	"context"
	"sync"
	"time"

	"choiros.io/kernel/kernelid"
	"choiros.io/kernel/rev"
)

// Store implements rev.Store in memory with no durability.
type Store struct {
	mu sync.RWMutex

	patches map[string]rev.Patch
	heads   map[string]string        // subject -> head revision id
	chains  map[string][]rev.Revision // subject -> ordered revisions
	byID    map[string]rev.Revision
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		patches: make(map[string]rev.Patch),
		heads:   make(map[string]string),
		chains:  make(map[string][]rev.Revision),
		byID:    make(map[string]rev.Revision),
	}
}

// RecordPatch implements rev.Store.
func (s *Store) RecordPatch(_ context.Context, p rev.Patch) (rev.Patch, error) {
	if p.PatchID == "" {
		return rev.Patch{}, rev.ErrPatchIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.patches[p.PatchID]; ok {
		return existing, nil
	}
	p.Content = append([]byte(nil), p.Content...)
	s.patches[p.PatchID] = p
	return p, nil
}

// GetPatch implements rev.Store.
func (s *Store) GetPatch(_ context.Context, patchID string) (rev.Patch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patches[patchID]
	if !ok {
		return rev.Patch{}, rev.ErrPatchNotFound
	}
	p.Content = append([]byte(nil), p.Content...)
	return p, nil
}

// CommitRevision implements rev.Store.
func (s *Store) CommitRevision(_ context.Context, subject, parentRevisionID, patchID string) (rev.Revision, error) {
	if subject == "" {
		return rev.Revision{}, rev.ErrSubjectRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patches[patchID]; !ok {
		return rev.Revision{}, rev.ErrPatchNotFound
	}

	currentHead := s.heads[subject]
	if currentHead != parentRevisionID {
		return rev.Revision{}, rev.ErrStaleParent
	}

	r := rev.Revision{
		RevisionID: kernelid.NewRevisionID(),
		Subject:    subject,
		ParentID:   parentRevisionID,
		PatchID:    patchID,
		CreatedAt:  time.Now().UTC(),
	}
	s.chains[subject] = append(s.chains[subject], r)
	s.heads[subject] = r.RevisionID
	s.byID[r.RevisionID] = r
	return r, nil
}

// Head implements rev.Store.
func (s *Store) Head(_ context.Context, subject string) (rev.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	headID, ok := s.heads[subject]
	if !ok {
		return rev.Revision{}, rev.ErrNoHead
	}
	return s.byID[headID], nil
}

// History implements rev.Store.
func (s *Store) History(_ context.Context, subject string, limit int) ([]rev.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[subject]
	if limit > 0 && len(chain) > limit {
		chain = chain[len(chain)-limit:]
	}
	out := make([]rev.Revision, len(chain))
	copy(out, chain)
	return out, nil
}

// Reset clears all stored state. Test-only, not part of rev.Store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches = make(map[string]rev.Patch)
	s.heads = make(map[string]string)
	s.chains = make(map[string][]rev.Revision)
	s.byID = make(map[string]rev.Revision)
}
