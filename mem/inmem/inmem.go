// Package inmem provides an in-memory Store and CitationStore for the
// memory substrate, combining an embed.Provider, a vector.Index, and a
// mutex-protected metadata/citation map.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"choiros.io/kernel/kernelid"
	"choiros.io/kernel/mem"
	"choiros.io/kernel/mem/embed"
	"choiros.io/kernel/mem/vector"
)

// Store implements mem.Store and mem.CitationStore over an in-process vector
// index and embedding provider.
type Store struct {
	provider embed.Provider
	index    *vector.Index

	mu        sync.RWMutex
	records   map[string]mem.Record            // record_id -> record
	byHash    map[string]string                // collection|chunk_hash -> record_id
	citations map[string]mem.CitationRecord     // citation_id -> citation
	byRun     map[string][]string              // run_id -> citation ids
	byCited   map[string][]string              // cited_id -> citation ids
}

// New builds a Store using provider for embeddings.
func New(provider embed.Provider) *Store {
	return &Store{
		provider:  provider,
		index:     vector.New(),
		records:   make(map[string]mem.Record),
		byHash:    make(map[string]string),
		citations: make(map[string]mem.CitationRecord),
		byRun:     make(map[string][]string),
		byCited:   make(map[string][]string),
	}
}

// Ingest implements mem.Store.
func (s *Store) Ingest(ctx context.Context, rec mem.Record) (mem.Record, error) {
	if rec.ChunkHash == "" {
		return mem.Record{}, mem.ErrChunkHashRequired
	}
	hashKey := string(rec.Collection) + "|" + rec.ChunkHash

	s.mu.RLock()
	if id, ok := s.byHash[hashKey]; ok {
		existing := s.records[id]
		s.mu.RUnlock()
		return existing, nil
	}
	s.mu.RUnlock()

	if len(rec.Embedding) == 0 {
		vec, err := s.provider.Embed(ctx, rec.Text)
		if err != nil {
			return mem.Record{}, err
		}
		rec.Embedding = vec
	}
	if rec.RecordID == "" {
		rec.RecordID = kernelid.NewChunkID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	if id, ok := s.byHash[hashKey]; ok {
		existing := s.records[id]
		s.mu.Unlock()
		return existing, nil
	}
	s.records[rec.RecordID] = rec
	s.byHash[hashKey] = rec.RecordID
	s.mu.Unlock()

	if err := s.index.Upsert(ctx, rec); err != nil {
		return mem.Record{}, err
	}
	return rec, nil
}

// Search implements mem.Store.
func (s *Store) Search(ctx context.Context, query string, collection mem.Collection, userID string, topK int) ([]mem.Hit, error) {
	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.index.Query(ctx, vec, collection, userID, topK)
}

// Expand implements mem.Store. neighbors mode returns the top related
// records in the same collection as each hit; provenance_edges and
// related_episodes return the records themselves (no separate provenance
// store yet beyond what Record carries).
func (s *Store) Expand(ctx context.Context, hitIDs []string, mode mem.ExpandMode) ([]mem.Record, error) {
	s.mu.RLock()
	var base []mem.Record
	for _, id := range hitIDs {
		if r, ok := s.records[id]; ok {
			base = append(base, r)
		}
	}
	s.mu.RUnlock()

	if mode != mem.ExpandNeighbors {
		return base, nil
	}
	var out []mem.Record
	seen := make(map[string]bool)
	for _, r := range base {
		hits, err := s.index.Query(ctx, r.Embedding, r.Collection, "", 5)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if h.Record.RecordID == r.RecordID || seen[h.Record.RecordID] {
				continue
			}
			seen[h.Record.RecordID] = true
			if full, ok := s.records[h.Record.RecordID]; ok {
				out = append(out, full)
			}
		}
	}
	return out, nil
}

// ContextPack implements mem.Store. It searches every collection for
// objective, merges candidates, sorts deterministically by (score desc,
// record id asc), and truncates to tokenBudget using a fixed 4-chars-per-
// token estimate.
func (s *Store) ContextPack(ctx context.Context, objective, userID string, tokenBudget int) (mem.ContextSnapshot, error) {
	collections := []mem.Collection{
		mem.CollectionUserInputs, mem.CollectionVersionSnapshots,
		mem.CollectionRunTrajectories, mem.CollectionDocTrajectories,
	}
	var candidates []mem.ContextItem
	for _, c := range collections {
		hits, err := s.Search(ctx, objective, c, userID, 10)
		if err != nil {
			return mem.ContextSnapshot{}, err
		}
		for _, h := range hits {
			candidates = append(candidates, mem.ContextItem{
				Record: h.Record,
				Score:  h.Score,
				Provenance: mem.Provenance{
					Collection: c,
					ChunkHash:  h.Record.ChunkHash,
				},
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Record.RecordID < candidates[j].Record.RecordID
	})

	const charsPerToken = 4
	budget := tokenBudget * charsPerToken
	var out []mem.ContextItem
	used := 0
	truncated := false
	for _, c := range candidates {
		cost := len(c.Record.Text)
		if tokenBudget > 0 && used+cost > budget {
			truncated = true
			break
		}
		out = append(out, c)
		used += cost
	}

	return mem.ContextSnapshot{Objective: objective, Items: out, Truncated: truncated}, nil
}

// Propose implements mem.CitationStore.
func (s *Store) Propose(_ context.Context, c mem.CitationRecord) (mem.CitationRecord, error) {
	if c.CitationID == "" {
		c.CitationID = kernelid.NewCitationID()
	}
	c.Status = mem.CitationProposed
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.citations[c.CitationID] = c
	s.byRun[c.CitingRunID] = append(s.byRun[c.CitingRunID], c.CitationID)
	s.byCited[c.CitedID] = append(s.byCited[c.CitedID], c.CitationID)
	return c, nil
}

// Confirm implements mem.CitationStore.
func (s *Store) Confirm(_ context.Context, citationID, confirmedBy string) (mem.CitationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.citations[citationID]
	if !ok {
		return mem.CitationRecord{}, mem.ErrCitationNotFound
	}
	c.Status = mem.CitationConfirmed
	c.ConfirmedBy = confirmedBy
	c.ConfirmedAt = time.Now().UTC()
	s.citations[citationID] = c

	if rec, ok := s.records[c.CitedID]; ok {
		rec.CitationCount++
		s.records[c.CitedID] = rec
	}
	return c, nil
}

// Reject implements mem.CitationStore.
func (s *Store) Reject(_ context.Context, citationID string) (mem.CitationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.citations[citationID]
	if !ok {
		return mem.CitationRecord{}, mem.ErrCitationNotFound
	}
	c.Status = mem.CitationRejected
	s.citations[citationID] = c
	return c, nil
}

// ListForRun implements mem.CitationStore.
func (s *Store) ListForRun(_ context.Context, runID string) ([]mem.CitationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRun[runID]
	out := make([]mem.CitationRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.citations[id])
	}
	return out, nil
}

// ListForCited implements mem.CitationStore.
func (s *Store) ListForCited(_ context.Context, citedID string) ([]mem.CitationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCited[citedID]
	out := make([]mem.CitationRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.citations[id])
	}
	return out, nil
}
