// Package inmem provides an in-memory implementation of sched.Store, modeled
// on the kernel's other defensive-copy, mutex-protected in-memory stores.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"choiros.io/kernel/kernelid"
	"choiros.io/kernel/sched"
)

// Store implements sched.Store in memory with no durability.
type Store struct {
	mu    sync.Mutex
	items map[string]sched.Item
	byRun map[string][]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		items: make(map[string]sched.Item),
		byRun: make(map[string][]string),
	}
}

// RequestWork implements sched.Store.
func (s *Store) RequestWork(_ context.Context, item sched.Item) (sched.Item, error) {
	if item.WorkID == "" {
		return sched.Item{}, sched.ErrWorkIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := item.RunID + "/" + item.WorkID
	if existing, ok := s.lookupByRunWorkLocked(key); ok {
		return existing, nil
	}

	now := time.Now().UTC()
	item.State = sched.StateQueued
	item.Payload = append([]byte(nil), item.Payload...)
	item.CreatedAt = now
	item.UpdatedAt = now
	s.items[item.WorkID] = item
	s.byRun[item.RunID] = append(s.byRun[item.RunID], item.WorkID)
	return cloneItem(item), nil
}

func (s *Store) lookupByRunWorkLocked(key string) (sched.Item, bool) {
	for _, it := range s.items {
		if it.RunID+"/"+it.WorkID == key {
			return cloneItem(it), true
		}
	}
	return sched.Item{}, false
}

// Dispatch implements sched.Store.
func (s *Store) Dispatch(_ context.Context, owner string, ttl time.Duration) (sched.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []sched.Item
	for _, it := range s.items {
		if it.State == sched.StateQueued {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		return sched.Item{}, sched.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].WorkID < candidates[j].WorkID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	picked := candidates[0]
	picked.State = sched.StateLeased
	picked.LeaseID = kernelid.New(kernelid.KindLease, "")
	picked.LeaseOwner = owner
	picked.LeaseExpiry = time.Now().Add(ttl)
	picked.Attempts++
	picked.UpdatedAt = time.Now().UTC()
	s.items[picked.WorkID] = picked
	return cloneItem(picked), nil
}

// Complete implements sched.Store.
func (s *Store) Complete(_ context.Context, workID, leaseID string) (sched.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[workID]
	if !ok {
		return sched.Item{}, sched.ErrNotFound
	}
	if it.State != sched.StateLeased || it.LeaseID != leaseID {
		return sched.Item{}, sched.ErrNotLeased
	}
	it.State = sched.StateCompleted
	it.UpdatedAt = time.Now().UTC()
	s.items[workID] = it
	return cloneItem(it), nil
}

// Fail implements sched.Store.
func (s *Store) Fail(_ context.Context, workID, leaseID, reason string) (sched.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[workID]
	if !ok {
		return sched.Item{}, sched.ErrNotFound
	}
	if it.State != sched.StateLeased || it.LeaseID != leaseID {
		return sched.Item{}, sched.ErrNotLeased
	}
	it.UpdatedAt = time.Now().UTC()
	if it.MaxRetries > 0 && it.Attempts >= it.MaxRetries {
		it.State = sched.StateBlocked
		it.BlockReason = reason
		s.items[workID] = it
		return cloneItem(it), sched.ErrRetriesExhausted
	}
	it.State = sched.StateQueued
	it.LeaseID = ""
	it.LeaseOwner = ""
	it.LeaseExpiry = time.Time{}
	s.items[workID] = it
	return cloneItem(it), nil
}

// RequeueExpired implements sched.Store.
func (s *Store) RequeueExpired(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var requeued []string
	for id, it := range s.items {
		if it.State != sched.StateLeased {
			continue
		}
		if it.LeaseExpiry.IsZero() || it.LeaseExpiry.After(now) {
			continue
		}
		it.State = sched.StateQueued
		it.LeaseID = ""
		it.LeaseOwner = ""
		it.LeaseExpiry = time.Time{}
		it.UpdatedAt = now
		s.items[id] = it
		requeued = append(requeued, id)
	}
	return requeued, nil
}

// Get implements sched.Store.
func (s *Store) Get(_ context.Context, workID string) (sched.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[workID]
	if !ok {
		return sched.Item{}, sched.ErrNotFound
	}
	return cloneItem(it), nil
}

// ListByRun implements sched.Store.
func (s *Store) ListByRun(_ context.Context, runID string) ([]sched.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byRun[runID]
	out := make([]sched.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, cloneItem(it))
		}
	}
	return out, nil
}

// Reset clears all stored state. Test-only, not part of sched.Store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]sched.Item)
	s.byRun = make(map[string][]string)
}

func cloneItem(it sched.Item) sched.Item {
	it.Payload = append([]byte(nil), it.Payload...)
	return it
}
