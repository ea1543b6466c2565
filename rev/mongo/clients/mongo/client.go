// Package mongo implements the low-level MongoDB client used by the durable
// revision store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"choiros.io/kernel/rev"
)

type (
	// Client exposes Mongo-backed operations for the revision store.
	Client interface {
		Ping(ctx context.Context) error

		RecordPatch(ctx context.Context, p rev.Patch) (rev.Patch, error)
		GetPatch(ctx context.Context, patchID string) (rev.Patch, error)
		CommitRevision(ctx context.Context, subject, parentRevisionID, patchID string) (rev.Revision, error)
		Head(ctx context.Context, subject string) (rev.Revision, error)
		History(ctx context.Context, subject string, limit int) ([]rev.Revision, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client   *mongodriver.Client
		Database string
		Timeout  time.Duration
	}

	client struct {
		mongo     *mongodriver.Client
		patches   *mongodriver.Collection
		revisions *mongodriver.Collection
		heads     *mongodriver.Collection
		timeout   time.Duration
	}

	patchDocument struct {
		PatchID   string    `bson:"patch_id"`
		Subject   string    `bson:"subject"`
		Content   []byte    `bson:"content"`
		CreatedAt time.Time `bson:"created_at"`
	}

	revisionDocument struct {
		RevisionID string    `bson:"revision_id"`
		Subject    string    `bson:"subject"`
		ParentID   string    `bson:"parent_id"`
		PatchID    string    `bson:"patch_id"`
		CreatedAt  time.Time `bson:"created_at"`
	}

	// headDocument stores the current head revision per subject; CommitRevision
	// performs a filtered update keyed on (subject, head) so only one
	// concurrent writer can advance the head from a given parent.
	headDocument struct {
		Subject string `bson:"_id"`
		Head    string `bson:"head"`
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
		patches:   db.Collection("kernel_patches"),
		revisions: db.Collection("kernel_revisions"),
		heads:     db.Collection("kernel_revision_heads"),
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

func (c *client) RecordPatch(ctx context.Context, p rev.Patch) (rev.Patch, error) {
	if p.PatchID == "" {
		return rev.Patch{}, rev.ErrPatchIDRequired
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := patchDocument{
		PatchID:   p.PatchID,
		Subject:   p.Subject,
		Content:   append([]byte(nil), p.Content...),
		CreatedAt: orNow(p.CreatedAt),
	}
	_, err := c.patches.InsertOne(ctx, doc)
	if err == nil {
		return toPatch(doc), nil
	}
	if !mongodriver.IsDuplicateKeyError(err) {
		return rev.Patch{}, err
	}
	return c.GetPatch(ctx, p.PatchID)
}

func (c *client) GetPatch(ctx context.Context, patchID string) (rev.Patch, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc patchDocument
	if err := c.patches.FindOne(ctx, bson.M{"patch_id": patchID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return rev.Patch{}, rev.ErrPatchNotFound
		}
		return rev.Patch{}, err
	}
	return toPatch(doc), nil
}

func (c *client) CommitRevision(ctx context.Context, subject, parentRevisionID, patchID string) (rev.Revision, error) {
	if subject == "" {
		return rev.Revision{}, rev.ErrSubjectRequired
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.GetPatch(ctx, patchID); err != nil {
		return rev.Revision{}, err
	}

	newRevisionID := subject + ":" + patchID

	// Advance the head only if it currently equals parentRevisionID. For a
	// brand-new subject (no head document yet), upsert succeeds exactly once
	// because the filter matches a nonexistent document only the first time
	// any writer races to create it.
	filter := bson.M{"_id": subject, "head": parentRevisionID}
	update := bson.M{"$set": bson.M{"head": newRevisionID}}
	result, err := c.heads.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(parentRevisionID == ""))
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return rev.Revision{}, rev.ErrStaleParent
		}
		return rev.Revision{}, err
	}
	if result.MatchedCount == 0 && result.UpsertedCount == 0 {
		return rev.Revision{}, rev.ErrStaleParent
	}

	r := rev.Revision{
		RevisionID: newRevisionID,
		Subject:    subject,
		ParentID:   parentRevisionID,
		PatchID:    patchID,
		CreatedAt:  time.Now().UTC(),
	}
	doc := revisionDocument{
		RevisionID: r.RevisionID,
		Subject:    r.Subject,
		ParentID:   r.ParentID,
		PatchID:    r.PatchID,
		CreatedAt:  r.CreatedAt,
	}
	if _, err := c.revisions.InsertOne(ctx, doc); err != nil {
		return rev.Revision{}, err
	}
	return r, nil
}

func (c *client) Head(ctx context.Context, subject string) (rev.Revision, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var head headDocument
	if err := c.heads.FindOne(ctx, bson.M{"_id": subject}).Decode(&head); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) || head.Head == "" {
			return rev.Revision{}, rev.ErrNoHead
		}
		return rev.Revision{}, err
	}
	if head.Head == "" {
		return rev.Revision{}, rev.ErrNoHead
	}
	var doc revisionDocument
	if err := c.revisions.FindOne(ctx, bson.M{"revision_id": head.Head}).Decode(&doc); err != nil {
		return rev.Revision{}, err
	}
	return toRevision(doc), nil
}

func (c *client) History(ctx context.Context, subject string, limit int) ([]rev.Revision, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// With a limit, take the newest entries first and reverse them below so
	// the result is still oldest-to-newest, counted back from the head.
	sortDir := 1
	if limit > 0 {
		sortDir = -1
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: sortDir}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.revisions.Find(ctx, bson.M{"subject": subject}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []rev.Revision
	for cur.Next(ctx) {
		var doc revisionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, toRevision(doc))
	}
	if sortDir < 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, cur.Err()
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *client) ensureIndexes(ctx context.Context) error {
	if _, err := c.patches.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "patch_id", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := c.revisions.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "revision_id", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := c.revisions.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "subject", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

func toPatch(doc patchDocument) rev.Patch {
	return rev.Patch{
		PatchID:   doc.PatchID,
		Subject:   doc.Subject,
		Content:   append([]byte(nil), doc.Content...),
		CreatedAt: doc.CreatedAt,
	}
}

func toRevision(doc revisionDocument) rev.Revision {
	return rev.Revision{
		RevisionID: doc.RevisionID,
		Subject:    doc.Subject,
		ParentID:   doc.ParentID,
		PatchID:    doc.PatchID,
		CreatedAt:  doc.CreatedAt,
	}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
