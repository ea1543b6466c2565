// Package mongo wires a durable mem.Store and mem.CitationStore: record
// metadata and the citation graph persist to MongoDB via the client package,
// while similarity search runs against a mem/vector index. NewStore does not
// load records already stored in Mongo into that index; it holds only what
// the caller passes in plus records ingested through this Store.
package mongo

import (
	"context"
	"errors"
	"sort"

	"choiros.io/kernel/kernelid"
	"choiros.io/kernel/mem"
	"choiros.io/kernel/mem/embed"
	clientsmongo "choiros.io/kernel/mem/mongo/clients/mongo"
	"choiros.io/kernel/mem/vector"
)

// Store implements mem.Store and mem.CitationStore over a Mongo client and
// an in-process vector index.
type Store struct {
	client   clientsmongo.Client
	provider embed.Provider
	index    *vector.Index
}

// NewStore builds a Mongo-backed memory substrate store.
func NewStore(client clientsmongo.Client, provider embed.Provider, index *vector.Index) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if provider == nil {
		return nil, errors.New("embedding provider is required")
	}
	if index == nil {
		index = vector.New()
	}
	return &Store{client: client, provider: provider, index: index}, nil
}

// Ingest implements mem.Store.
func (s *Store) Ingest(ctx context.Context, rec mem.Record) (mem.Record, error) {
	if rec.ChunkHash == "" {
		return mem.Record{}, mem.ErrChunkHashRequired
	}
	if existing, ok, err := s.client.FindByHash(ctx, rec.Collection, rec.ChunkHash); err != nil {
		return mem.Record{}, err
	} else if ok {
		return existing, nil
	}

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

	saved, err := s.client.SaveRecord(ctx, rec)
	if err != nil {
		return mem.Record{}, err
	}
	if err := s.index.Upsert(ctx, saved); err != nil {
		return mem.Record{}, err
	}
	return saved, nil
}

// Search implements mem.Store.
func (s *Store) Search(ctx context.Context, query string, collection mem.Collection, userID string, topK int) ([]mem.Hit, error) {
	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.index.Query(ctx, vec, collection, userID, topK)
}

// Expand implements mem.Store. neighbors mode queries the vector index for
// each hit's own embedding and returns unseen nearby records; other modes
// return the hits' own records (no separate provenance store beyond what
// Record carries).
func (s *Store) Expand(ctx context.Context, hitIDs []string, mode mem.ExpandMode) ([]mem.Record, error) {
	base := make([]mem.Record, 0, len(hitIDs))
	for _, id := range hitIDs {
		rec, err := s.client.GetRecord(ctx, id)
		if err != nil {
			if errors.Is(err, mem.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		base = append(base, rec)
	}
	if mode != mem.ExpandNeighbors {
		return base, nil
	}

	var out []mem.Record
	seen := map[string]bool{}
	for _, rec := range base {
		hits, err := s.index.Query(ctx, rec.Embedding, rec.Collection, "", 5)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if h.Record.RecordID == rec.RecordID || seen[h.Record.RecordID] {
				continue
			}
			seen[h.Record.RecordID] = true
			full, err := s.client.GetRecord(ctx, h.Record.RecordID)
			if err != nil {
				continue
			}
			out = append(out, full)
		}
	}
	return out, nil
}

// ContextPack implements mem.Store identically to mem/inmem's deterministic
// sort-then-truncate policy, sourced from this store's Search.
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
				Record:     h.Record,
				Score:      h.Score,
				Provenance: mem.Provenance{Collection: c, ChunkHash: h.Record.ChunkHash},
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
func (s *Store) Propose(ctx context.Context, c mem.CitationRecord) (mem.CitationRecord, error) {
	if c.CitationID == "" {
		c.CitationID = kernelid.NewCitationID()
	}
	return s.client.SaveCitation(ctx, c)
}

// Confirm implements mem.CitationStore.
func (s *Store) Confirm(ctx context.Context, citationID, confirmedBy string) (mem.CitationRecord, error) {
	return s.client.UpdateCitationStatus(ctx, citationID, mem.CitationConfirmed, confirmedBy)
}

// Reject implements mem.CitationStore.
func (s *Store) Reject(ctx context.Context, citationID string) (mem.CitationRecord, error) {
	return s.client.UpdateCitationStatus(ctx, citationID, mem.CitationRejected, "")
}

// ListForRun implements mem.CitationStore.
func (s *Store) ListForRun(ctx context.Context, runID string) ([]mem.CitationRecord, error) {
	return s.client.ListCitationsForRun(ctx, runID)
}

// ListForCited implements mem.CitationStore.
func (s *Store) ListForCited(ctx context.Context, citedID string) ([]mem.CitationRecord, error) {
	return s.client.ListCitationsForCited(ctx, citedID)
}
