// Package mem implements the memory substrate: four embedding collections
// over projected events, a citation graph, and deterministic context-pack
// composition for per-turn retrieval.
package mem

import (
	"context"
	"errors"
	"time"
)

// Collection names the four embedding collections the substrate maintains.
type Collection string

const (
	CollectionUserInputs      Collection = "user_inputs"
	CollectionVersionSnapshots Collection = "version_snapshots"
	CollectionRunTrajectories Collection = "run_trajectories"
	CollectionDocTrajectories Collection = "doc_trajectories"
)

// Record is an embedded unit stored in one collection.
type Record struct {
	RecordID      string            `bson:"record_id"`
	Collection    Collection        `bson:"collection"`
	ChunkHash     string            `bson:"chunk_hash"`
	Text          string            `bson:"text"`
	Embedding     []float32         `bson:"embedding"`
	UserID        string            `bson:"user_id"`
	Metadata      map[string]string `bson:"metadata,omitempty"`
	CreatedAt     time.Time         `bson:"created_at"`
	QualityScore  float64           `bson:"quality_score"`
	CitationCount int               `bson:"citation_count"`
}

// Hit is a search result: a record plus its similarity score.
type Hit struct {
	Record Record
	Score  float64
}

// CiteKind enumerates the kinds of citation edge.
type CiteKind string

const (
	CiteRetrievedContext CiteKind = "retrieved_context"
	CiteInlineReference  CiteKind = "inline_reference"
	CiteBuildsOn         CiteKind = "builds_on"
	CiteContradicts      CiteKind = "contradicts"
	CiteReissues         CiteKind = "reissues"
)

// CitationStatus is the lifecycle state of a CitationRecord.
type CitationStatus string

const (
	CitationProposed  CitationStatus = "proposed"
	CitationConfirmed CitationStatus = "confirmed"
	CitationRejected  CitationStatus = "rejected"
	CitationSuperseded CitationStatus = "superseded"
)

// CitationRecord is a proposal/confirmation edge between a run and a cited item.
type CitationRecord struct {
	CitationID   string         `bson:"citation_id"`
	CitedID      string         `bson:"cited_id"`
	CitedKind    string         `bson:"cited_kind"`
	CitingRunID  string         `bson:"citing_run_id"`
	CitingActor  string         `bson:"citing_actor"`
	CiteKind     CiteKind       `bson:"cite_kind"`
	Status       CitationStatus `bson:"status"`
	Confidence   float64        `bson:"confidence"`
	Excerpt      string         `bson:"excerpt,omitempty"`
	Rationale    string         `bson:"rationale"`
	ProposedBy   string         `bson:"proposed_by"`
	ConfirmedBy  string         `bson:"confirmed_by,omitempty"`
	ConfirmedAt  time.Time      `bson:"confirmed_at,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
}

// Provenance traces a context-pack item back to its source.
type Provenance struct {
	SourceEventID string
	Collection    Collection
	ChunkHash     string
}

// ContextItem is one entry in a ContextSnapshot.
type ContextItem struct {
	Record     Record
	Score      float64
	Provenance Provenance
}

// ContextSnapshot is the deterministic output of ContextPack.
type ContextSnapshot struct {
	Objective string
	Items     []ContextItem
	Truncated bool
}

// ExpandMode selects how Expand relates hits to further records.
type ExpandMode string

const (
	ExpandNeighbors   ExpandMode = "neighbors"
	ExpandRelated     ExpandMode = "related_episodes"
	ExpandProvenance  ExpandMode = "provenance_edges"
)

var (
	// ErrChunkHashRequired is returned by Ingest when ChunkHash is empty.
	ErrChunkHashRequired = errors.New("chunk hash is required")
	// ErrRecordNotFound is returned when a referenced record does not exist.
	ErrRecordNotFound = errors.New("memory record not found")
	// ErrCitationNotFound is returned when a referenced citation does not exist.
	ErrCitationNotFound = errors.New("citation not found")
)

// Store is the memory substrate's retrieval and ingest contract.
type Store interface {
	// Ingest embeds and stores record, skipping re-embedding when a record
	// with the same (Collection, ChunkHash) already exists. Returns the
	// stored record (existing one on a hash hit).
	Ingest(ctx context.Context, record Record) (Record, error)

	// Search performs approximate nearest-neighbor retrieval within one
	// collection, optionally filtered by user id, returning the top_k hits.
	Search(ctx context.Context, query string, collection Collection, userID string, topK int) ([]Hit, error)

	// Expand returns records related to hitIDs under the given mode.
	Expand(ctx context.Context, hitIDs []string, mode ExpandMode) ([]Record, error)

	// ContextPack composes a deterministic retrieval-backed context snapshot
	// for objective within tokenBudget. Equal inputs always produce an
	// equal snapshot: candidates are sorted by (score desc, record id asc)
	// before truncation.
	ContextPack(ctx context.Context, objective, userID string, tokenBudget int) (ContextSnapshot, error)
}

// CitationStore manages the citation graph.
type CitationStore interface {
	// Propose records a new citation edge in CitationProposed status.
	Propose(ctx context.Context, c CitationRecord) (CitationRecord, error)

	// Confirm promotes a proposed citation to CitationConfirmed.
	Confirm(ctx context.Context, citationID, confirmedBy string) (CitationRecord, error)

	// Reject marks a citation CitationRejected.
	Reject(ctx context.Context, citationID string) (CitationRecord, error)

	// ListForRun returns all citations proposed within a run.
	ListForRun(ctx context.Context, runID string) ([]CitationRecord, error)

	// ListForCited returns all citations targeting a given cited id.
	ListForCited(ctx context.Context, citedID string) ([]CitationRecord, error)
}
