// Package inmem provides an in-memory implementation of elog.Store for
// testing and local development. The log holds events in an append-only
// slice with no persistence across process restarts. Use this for unit tests
// or prototyping; production deployments should use elog/mongo for durable
// storage, optionally fronted by elog/pulse for cross-process fan-out.
package inmem

import (
	"context"
	"sync"

	"choiros.io/kernel/elog"
)

// Store implements elog.Store in memory with no durability. All operations
// are thread-safe via sync.RWMutex. Events are defensively copied on read to
// prevent accidental mutation of stored data.
type Store struct {
	mu sync.RWMutex

	events  []elog.Event
	byID    map[string]int64 // event_id -> seq, for idempotent Append
	nextSeq int64

	subs map[*subscription]chan elog.Event
}

// New constructs an empty Store with no recorded events. The returned store
// is immediately ready for use and requires no additional configuration.
func New() *Store {
	return &Store{
		byID:    make(map[string]int64),
		nextSeq: 1,
		subs:    make(map[*subscription]chan elog.Event),
	}
}

// Append implements elog.Store.
func (s *Store) Append(_ context.Context, evt elog.Event) (elog.Event, error) {
	if evt.EventID == "" {
		return elog.Event{}, elog.ErrEventIDRequired
	}
	if evt.Type == "" {
		return elog.Event{}, elog.ErrTypeRequired
	}

	s.mu.Lock()
	if seq, ok := s.byID[evt.EventID]; ok {
		existing := s.events[seq-1]
		s.mu.Unlock()
		return existing, nil
	}

	evt.Payload = append([]byte(nil), evt.Payload...)
	evt.Seq = s.nextSeq
	s.nextSeq++
	s.events = append(s.events, evt)
	s.byID[evt.EventID] = evt.Seq

	subs := make([]chan elog.Event, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		ch <- evt
	}
	return evt, nil
}

// Get implements elog.Store.
func (s *Store) Get(_ context.Context, seq int64) (elog.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 1 || seq > int64(len(s.events)) {
		return elog.Event{}, elog.ErrNotFound
	}
	return s.events[seq-1], nil
}

// List implements elog.Store.
func (s *Store) List(_ context.Context, after int64, limit int) ([]elog.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if after < 0 {
		after = 0
	}
	if after >= int64(len(s.events)) {
		return nil, nil
	}
	rest := s.events[after:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]elog.Event, len(rest))
	copy(out, rest)
	return out, nil
}

// Subscribe implements elog.Store. The channel is buffered to tolerate brief
// subscriber stalls without blocking Append; a subscriber that falls
// persistently behind must be closed and re-subscribed from its last seen
// Seq, matching the store's at-least-once delivery guarantee.
func (s *Store) Subscribe(ctx context.Context, after int64) (<-chan elog.Event, elog.Subscription, error) {
	s.mu.Lock()
	if after < 0 {
		after = 0
	}
	var backlog []elog.Event
	if after < int64(len(s.events)) {
		backlog = append(backlog, s.events[after:]...)
	}

	ch := make(chan elog.Event, 256+len(backlog))
	sub := &subscription{store: s, ch: ch}
	s.subs[sub] = ch
	s.mu.Unlock()

	for _, evt := range backlog {
		ch <- evt
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return ch, sub, nil
}

// Reset clears all stored events and subscriptions. Useful in tests to
// ensure isolation between test cases. Not part of the elog.Store interface.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byID = make(map[string]int64)
	s.nextSeq = 1
	for sub, ch := range s.subs {
		close(ch)
		delete(s.subs, sub)
	}
}

type subscription struct {
	store *Store
	ch    chan elog.Event
	once  sync.Once
}

func (sub *subscription) Close() error {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.subs, sub)
		sub.store.mu.Unlock()
		close(sub.ch)
	})
	return nil
}
