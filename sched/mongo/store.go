// Package mongo wires the sched.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"
	"time"

	"choiros.io/kernel/sched"
	clientsmongo "choiros.io/kernel/sched/mongo/clients/mongo"
)

// Store implements sched.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed work scheduler store.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

func (s *Store) RequestWork(ctx context.Context, item sched.Item) (sched.Item, error) {
	return s.client.RequestWork(ctx, item)
}

func (s *Store) Dispatch(ctx context.Context, owner string, ttl time.Duration) (sched.Item, error) {
	return s.client.Dispatch(ctx, owner, ttl)
}

func (s *Store) Complete(ctx context.Context, workID, leaseID string) (sched.Item, error) {
	return s.client.Complete(ctx, workID, leaseID)
}

func (s *Store) Fail(ctx context.Context, workID, leaseID, reason string) (sched.Item, error) {
	return s.client.Fail(ctx, workID, leaseID, reason)
}

func (s *Store) RequeueExpired(ctx context.Context, now time.Time) ([]string, error) {
	return s.client.RequeueExpired(ctx, now)
}

func (s *Store) Get(ctx context.Context, workID string) (sched.Item, error) {
	return s.client.Get(ctx, workID)
}

func (s *Store) ListByRun(ctx context.Context, runID string) ([]sched.Item, error) {
	return s.client.ListByRun(ctx, runID)
}
