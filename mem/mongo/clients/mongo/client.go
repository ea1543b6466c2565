// Package mongo implements the low-level MongoDB client used for durable
// memory record metadata and the citation graph. Embeddings themselves live
// in mem/vector's chromem-go index; this client persists everything a
// restarted process needs to rebuild or audit that index.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"choiros.io/kernel/mem"
)

type (
	// Client exposes Mongo-backed operations for memory record metadata and
	// the citation graph.
	Client interface {
		Ping(ctx context.Context) error

		SaveRecord(ctx context.Context, rec mem.Record) (mem.Record, error)
		FindByHash(ctx context.Context, collection mem.Collection, chunkHash string) (mem.Record, bool, error)
		GetRecord(ctx context.Context, recordID string) (mem.Record, error)
		IncrementCitationCount(ctx context.Context, recordID string) error

		SaveCitation(ctx context.Context, c mem.CitationRecord) (mem.CitationRecord, error)
		UpdateCitationStatus(ctx context.Context, citationID string, status mem.CitationStatus, confirmedBy string) (mem.CitationRecord, error)
		ListCitationsForRun(ctx context.Context, runID string) ([]mem.CitationRecord, error)
		ListCitationsForCited(ctx context.Context, citedID string) ([]mem.CitationRecord, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client   *mongodriver.Client
		Database string
		Timeout  time.Duration
	}

	client struct {
		mongo     *mongodriver.Client
		records   *mongodriver.Collection
		citations *mongodriver.Collection
		timeout   time.Duration
	}
)

const defaultTimeout = 5 * time.Second

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	c := &client{
		mongo:     opts.Client,
		records:   db.Collection("kernel_memory_records"),
		citations: db.Collection("kernel_citations"),
		timeout:   timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) ensureIndexes(ctx context.Context) error {
	if _, err := c.records.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "record_id", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := c.records.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "chunk_hash", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := c.citations.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "citation_id", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := c.citations.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "citing_run_id", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := c.citations.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "cited_id", Value: 1}},
	})
	return err
}

func (c *client) SaveRecord(ctx context.Context, rec mem.Record) (mem.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := c.records.InsertOne(ctx, rec)
	if err == nil {
		return rec, nil
	}
	if !mongodriver.IsDuplicateKeyError(err) {
		return mem.Record{}, err
	}
	existing, ok, findErr := c.FindByHash(ctx, rec.Collection, rec.ChunkHash)
	if findErr != nil {
		return mem.Record{}, findErr
	}
	if !ok {
		return mem.Record{}, err
	}
	return existing, nil
}

func (c *client) FindByHash(ctx context.Context, collection mem.Collection, chunkHash string) (mem.Record, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var rec mem.Record
	err := c.records.FindOne(ctx, bson.M{"collection": collection, "chunk_hash": chunkHash}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return mem.Record{}, false, nil
		}
		return mem.Record{}, false, err
	}
	return rec, true, nil
}

func (c *client) GetRecord(ctx context.Context, recordID string) (mem.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var rec mem.Record
	if err := c.records.FindOne(ctx, bson.M{"record_id": recordID}).Decode(&rec); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return mem.Record{}, mem.ErrRecordNotFound
		}
		return mem.Record{}, err
	}
	return rec, nil
}

func (c *client) IncrementCitationCount(ctx context.Context, recordID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.records.UpdateOne(ctx, bson.M{"record_id": recordID}, bson.M{"$inc": bson.M{"citation_count": 1}})
	return err
}

func (c *client) SaveCitation(ctx context.Context, cit mem.CitationRecord) (mem.CitationRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cit.Status = mem.CitationProposed
	if cit.CreatedAt.IsZero() {
		cit.CreatedAt = time.Now().UTC()
	}
	if _, err := c.citations.InsertOne(ctx, cit); err != nil {
		return mem.CitationRecord{}, err
	}
	return cit, nil
}

func (c *client) UpdateCitationStatus(ctx context.Context, citationID string, status mem.CitationStatus, confirmedBy string) (mem.CitationRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	set := bson.M{"status": status}
	if status == mem.CitationConfirmed {
		set["confirmed_by"] = confirmedBy
		set["confirmed_at"] = time.Now().UTC()
	}
	after := options.After
	var out mem.CitationRecord
	err := c.citations.FindOneAndUpdate(ctx,
		bson.M{"citation_id": citationID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&out)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return mem.CitationRecord{}, mem.ErrCitationNotFound
		}
		return mem.CitationRecord{}, err
	}
	if status == mem.CitationConfirmed {
		_ = c.IncrementCitationCount(ctx, out.CitedID)
	}
	return out, nil
}

func (c *client) ListCitationsForRun(ctx context.Context, runID string) ([]mem.CitationRecord, error) {
	return c.listCitations(ctx, bson.M{"citing_run_id": runID})
}

func (c *client) ListCitationsForCited(ctx context.Context, citedID string) ([]mem.CitationRecord, error) {
	return c.listCitations(ctx, bson.M{"cited_id": citedID})
}

func (c *client) listCitations(ctx context.Context, filter bson.M) ([]mem.CitationRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.citations.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []mem.CitationRecord
	for cur.Next(ctx) {
		var c mem.CitationRecord
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, cur.Err()
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
