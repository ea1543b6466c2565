// Package mongo implements the low-level MongoDB client used by the durable
// event log store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"choiros.io/kernel/elog"
)

type (
	// Client exposes Mongo-backed operations for the event log.
	Client interface {
		Ping(ctx context.Context) error

		Append(ctx context.Context, evt elog.Event) (elog.Event, error)
		Get(ctx context.Context, seq int64) (elog.Event, error)
		List(ctx context.Context, after int64, limit int) ([]elog.Event, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    *mongodriver.Collection
		timeout time.Duration
	}

	eventDocument struct {
		Seq       int64     `bson:"seq"`
		EventID   string    `bson:"event_id"`
		RunID     string    `bson:"run_id,omitempty"`
		Type      string    `bson:"type"`
		Payload   []byte    `bson:"payload"`
		CreatedAt time.Time `bson:"created_at"`
	}

	// seqCounter tracks the next sequence number to assign, stored as a single
	// document per collection so Append can atomically reserve a seq via
	// findOneAndUpdate, mirroring a Mongo auto-increment counter pattern.
	seqCounter struct {
		ID  string `bson:"_id"`
		Seq int64  `bson:"seq"`
	}
)

const (
	defaultCollection = "kernel_events"
	defaultTimeout    = 5 * time.Second
	counterID         = "seq"
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Append first looks up evt.EventID and returns the stored event if one
// exists, preserving Append's idempotency contract. Otherwise it reserves the
// next sequence number via an atomic counter increment, then inserts the
// event document. If a concurrent Append inserts the same EventID first, the
// duplicate-key error is resolved by returning that stored event, and the
// sequence number reserved here is not used by any event.
func (c *client) Append(ctx context.Context, evt elog.Event) (elog.Event, error) {
	if evt.EventID == "" {
		return elog.Event{}, elog.ErrEventIDRequired
	}
	if evt.Type == "" {
		return elog.Event{}, elog.ErrTypeRequired
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var existing eventDocument
	err := c.coll.FindOne(ctx, bson.M{"event_id": evt.EventID}).Decode(&existing)
	if err == nil {
		return toEvent(existing), nil
	}
	if !errors.Is(err, mongodriver.ErrNoDocuments) {
		return elog.Event{}, err
	}

	seq, err := c.nextSeq(ctx)
	if err != nil {
		return elog.Event{}, err
	}

	doc := eventDocument{
		Seq:       seq,
		EventID:   evt.EventID,
		RunID:     evt.RunID,
		Type:      string(evt.Type),
		Payload:   append([]byte(nil), evt.Payload...),
		CreatedAt: evt.CreatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			var race eventDocument
			if ferr := c.coll.FindOne(ctx, bson.M{"event_id": evt.EventID}).Decode(&race); ferr == nil {
				return toEvent(race), nil
			}
		}
		return elog.Event{}, err
	}
	return toEvent(doc), nil
}

func (c *client) Get(ctx context.Context, seq int64) (elog.Event, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc eventDocument
	if err := c.coll.FindOne(ctx, bson.M{"seq": seq}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return elog.Event{}, elog.ErrNotFound
		}
		return elog.Event{}, err
	}
	return toEvent(doc), nil
}

func (c *client) List(ctx context.Context, after int64, limit int) ([]elog.Event, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	findOpts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.coll.Find(ctx, bson.M{"seq": bson.M{"$gt": after}}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []elog.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, toEvent(doc))
	}
	return out, cur.Err()
}

func (c *client) nextSeq(ctx context.Context) (int64, error) {
	result := c.coll.Database().Collection(c.coll.Name() + "_counters").FindOneAndUpdate(
		ctx,
		bson.M{"_id": counterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var counter seqCounter
	if err := result.Decode(&counter); err != nil {
		return 0, fmt.Errorf("elog/mongo: reserve sequence: %w", err)
	}
	return counter.Seq, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "seq", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "event_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}}},
	})
	return err
}

func toEvent(doc eventDocument) elog.Event {
	return elog.Event{
		Seq:       doc.Seq,
		EventID:   doc.EventID,
		RunID:     doc.RunID,
		Type:      elog.Type(doc.Type),
		Payload:   append([]byte(nil), doc.Payload...),
		CreatedAt: doc.CreatedAt,
	}
}
