// Package vector wraps chromem-go as the embedded approximate-nearest-
// neighbor index backing each memory collection.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"

	"choiros.io/kernel/mem"
)

// Index is a chromem-go-backed ANN index with one collection per
// mem.Collection.
type Index struct {
	db *chromem.DB

	mu          sync.Mutex
	collections map[mem.Collection]*chromem.Collection
}

// New builds an in-process (non-persistent) Index. Use NewPersistent for a
// disk-backed one.
func New() *Index {
	return &Index{db: chromem.NewDB(), collections: make(map[mem.Collection]*chromem.Collection)}
}

// NewPersistent builds an Index that persists to path on disk.
func NewPersistent(path string) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent vector db: %w", err)
	}
	return &Index{db: db, collections: make(map[mem.Collection]*chromem.Collection)}, nil
}

// Upsert stores rec's embedding under its collection, keyed by RecordID.
func (idx *Index) Upsert(ctx context.Context, rec mem.Record) error {
	if len(rec.Embedding) == 0 {
		return errors.New("record has no embedding")
	}
	coll, err := idx.collectionFor(rec.Collection)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        rec.RecordID,
		Embedding: rec.Embedding,
		Content:   rec.Text,
		Metadata:  stringMetadata(rec),
	}
	return coll.AddDocument(ctx, doc)
}

// Query performs nearest-neighbor search within collection, returning up to
// topK hits filtered by userID when non-empty.
func (idx *Index) Query(ctx context.Context, embedding []float32, collection mem.Collection, userID string, topK int) ([]mem.Hit, error) {
	coll, err := idx.collectionFor(collection)
	if err != nil {
		return nil, err
	}
	count := coll.Count()
	if count == 0 {
		return nil, nil
	}
	n := topK
	if n <= 0 || n > count {
		n = count
	}
	var filter map[string]string
	if userID != "" {
		filter = map[string]string{"user_id": userID}
	}
	results, err := coll.Query(ctx, embedding, n, filter, nil)
	if err != nil {
		return nil, err
	}
	out := make([]mem.Hit, 0, len(results))
	for _, r := range results {
		out = append(out, mem.Hit{
			Record: mem.Record{
				RecordID:   r.ID,
				Collection: collection,
				Text:       r.Content,
				Embedding:  r.Embedding,
				UserID:     r.Metadata["user_id"],
				ChunkHash:  r.Metadata["chunk_hash"],
			},
			Score: float64(r.Similarity),
		})
	}
	return out, nil
}

func (idx *Index) collectionFor(name mem.Collection) (*chromem.Collection, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if coll, ok := idx.collections[name]; ok {
		return coll, nil
	}
	coll, err := idx.db.GetOrCreateCollection(string(name), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", name, err)
	}
	idx.collections[name] = coll
	return coll, nil
}

func stringMetadata(rec mem.Record) map[string]string {
	meta := map[string]string{"user_id": rec.UserID, "chunk_hash": rec.ChunkHash}
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	return meta
}
