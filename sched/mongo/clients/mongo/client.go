// Package mongo implements the low-level MongoDB client used by the durable
// work scheduler store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"choiros.io/kernel/kernelid"
	"choiros.io/kernel/sched"
)

type (
	// Client exposes Mongo-backed operations for the work scheduler.
	Client interface {
		Ping(ctx context.Context) error

		RequestWork(ctx context.Context, item sched.Item) (sched.Item, error)
		Dispatch(ctx context.Context, owner string, ttl time.Duration) (sched.Item, error)
		Complete(ctx context.Context, workID, leaseID string) (sched.Item, error)
		Fail(ctx context.Context, workID, leaseID, reason string) (sched.Item, error)
		RequeueExpired(ctx context.Context, now time.Time) ([]string, error)
		Get(ctx context.Context, workID string) (sched.Item, error)
		ListByRun(ctx context.Context, runID string) ([]sched.Item, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client   *mongodriver.Client
		Database string
		Timeout  time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		items   *mongodriver.Collection
		timeout time.Duration
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
		mongo:   opts.Client,
		items:   db.Collection("kernel_work_items"),
		timeout: timeout,
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
	if _, err := c.items.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "work_id", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := c.items.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "work_id", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := c.items.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "state", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

func (c *client) RequestWork(ctx context.Context, item sched.Item) (sched.Item, error) {
	if item.WorkID == "" {
		return sched.Item{}, sched.ErrWorkIDRequired
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	item.State = sched.StateQueued
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := c.items.InsertOne(ctx, item)
	if err == nil {
		return item, nil
	}
	if !mongodriver.IsDuplicateKeyError(err) {
		return sched.Item{}, err
	}
	var existing sched.Item
	if err := c.items.FindOne(ctx, bson.M{"run_id": item.RunID, "work_id": item.WorkID}).Decode(&existing); err != nil {
		return sched.Item{}, err
	}
	return existing, nil
}

func (c *client) Dispatch(ctx context.Context, owner string, ttl time.Duration) (sched.Item, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"state": sched.StateQueued}
	sortOpt := bson.D{{Key: "created_at", Value: 1}, {Key: "work_id", Value: 1}}
	update := bson.M{"$set": bson.M{
		"state":        sched.StateLeased,
		"lease_id":     kernelid.New(kernelid.KindLease, ""),
		"lease_owner":  owner,
		"lease_expiry": time.Now().Add(ttl),
		"updated_at":   time.Now().UTC(),
	}, "$inc": bson.M{"attempts": 1}}

	after := options.After
	var out sched.Item
	err := c.items.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetSort(sortOpt).SetReturnDocument(after),
	).Decode(&out)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return sched.Item{}, sched.ErrNotFound
		}
		return sched.Item{}, err
	}
	return out, nil
}

func (c *client) Complete(ctx context.Context, workID, leaseID string) (sched.Item, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"work_id": workID, "state": sched.StateLeased, "lease_id": leaseID}
	update := bson.M{"$set": bson.M{"state": sched.StateCompleted, "updated_at": time.Now().UTC()}}
	after := options.After
	var out sched.Item
	err := c.items.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&out)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			if _, getErr := c.Get(ctx, workID); getErr != nil {
				return sched.Item{}, getErr
			}
			return sched.Item{}, sched.ErrNotLeased
		}
		return sched.Item{}, err
	}
	return out, nil
}

func (c *client) Fail(ctx context.Context, workID, leaseID, reason string) (sched.Item, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	current, err := c.Get(ctx, workID)
	if err != nil {
		return sched.Item{}, err
	}
	if current.State != sched.StateLeased || current.LeaseID != leaseID {
		return sched.Item{}, sched.ErrNotLeased
	}

	filter := bson.M{"work_id": workID, "lease_id": leaseID}
	var update bson.M
	exhausted := current.MaxRetries > 0 && current.Attempts >= current.MaxRetries
	if exhausted {
		update = bson.M{"$set": bson.M{
			"state": sched.StateBlocked, "block_reason": reason, "updated_at": time.Now().UTC(),
		}}
	} else {
		update = bson.M{"$set": bson.M{
			"state": sched.StateQueued, "lease_id": "", "lease_owner": "", "lease_expiry": time.Time{}, "updated_at": time.Now().UTC(),
		}}
	}
	after := options.After
	var out sched.Item
	if err := c.items.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&out); err != nil {
		return sched.Item{}, err
	}
	if exhausted {
		return out, sched.ErrRetriesExhausted
	}
	return out, nil
}

func (c *client) RequeueExpired(ctx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"state": sched.StateLeased, "lease_expiry": bson.M{"$lte": now}}
	cur, err := c.items.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var it sched.Item
		if err := cur.Decode(&it); err != nil {
			return nil, err
		}
		ids = append(ids, it.WorkID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		update := bson.M{"$set": bson.M{
			"state": sched.StateQueued, "lease_id": "", "lease_owner": "", "lease_expiry": time.Time{}, "updated_at": now,
		}}
		if _, err := c.items.UpdateOne(ctx, bson.M{"work_id": id, "state": sched.StateLeased}, update); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (c *client) Get(ctx context.Context, workID string) (sched.Item, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var it sched.Item
	if err := c.items.FindOne(ctx, bson.M{"work_id": workID}).Decode(&it); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return sched.Item{}, sched.ErrNotFound
		}
		return sched.Item{}, err
	}
	return it, nil
}

func (c *client) ListByRun(ctx context.Context, runID string) ([]sched.Item, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.items.Find(ctx, bson.M{"run_id": runID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []sched.Item
	for cur.Next(ctx) {
		var it sched.Item
		if err := cur.Decode(&it); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, cur.Err()
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
