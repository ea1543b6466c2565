// Package mongo wires the rev.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"

	"choiros.io/kernel/rev"
	clientsmongo "choiros.io/kernel/rev/mongo/clients/mongo"
)

// Store implements rev.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed revision store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// RecordPatch implements rev.Store.
func (s *Store) RecordPatch(ctx context.Context, p rev.Patch) (rev.Patch, error) {
	return s.client.RecordPatch(ctx, p)
}

// GetPatch implements rev.Store.
func (s *Store) GetPatch(ctx context.Context, patchID string) (rev.Patch, error) {
	return s.client.GetPatch(ctx, patchID)
}

// CommitRevision implements rev.Store.
func (s *Store) CommitRevision(ctx context.Context, subject, parentRevisionID, patchID string) (rev.Revision, error) {
	return s.client.CommitRevision(ctx, subject, parentRevisionID, patchID)
}

// Head implements rev.Store.
func (s *Store) Head(ctx context.Context, subject string) (rev.Revision, error) {
	return s.client.Head(ctx, subject)
}

// History implements rev.Store.
func (s *Store) History(ctx context.Context, subject string, limit int) ([]rev.Revision, error) {
	return s.client.History(ctx, subject, limit)
}
