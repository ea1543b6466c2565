// Package mongo wires the elog.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"
	"time"

	"choiros.io/kernel/elog"
	clientsmongo "choiros.io/kernel/elog/mongo/clients/mongo"
)

// Store implements elog.Store by delegating to the Mongo client. Subscribe is
// implemented by polling List on an interval; deployments that need push
// delivery should front this store with elog/pulse, which publishes each
// appended event to a Pulse stream for true fan-out.
type Store struct {
	client   clientsmongo.Client
	pollEvery time.Duration
}

// NewStore builds a Mongo-backed event log store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client, pollEvery: 250 * time.Millisecond}, nil
}

// Append implements elog.Store.
func (s *Store) Append(ctx context.Context, evt elog.Event) (elog.Event, error) {
	return s.client.Append(ctx, evt)
}

// Get implements elog.Store.
func (s *Store) Get(ctx context.Context, seq int64) (elog.Event, error) {
	return s.client.Get(ctx, seq)
}

// List implements elog.Store.
func (s *Store) List(ctx context.Context, after int64, limit int) ([]elog.Event, error) {
	return s.client.List(ctx, after, limit)
}

// Subscribe implements elog.Store by polling the underlying collection.
func (s *Store) Subscribe(ctx context.Context, after int64) (<-chan elog.Event, elog.Subscription, error) {
	ch := make(chan elog.Event, 256)
	subCtx, cancel := context.WithCancel(ctx)
	go s.poll(subCtx, after, ch)
	return ch, subscription{cancel: cancel}, nil
}

func (s *Store) poll(ctx context.Context, after int64, ch chan<- elog.Event) {
	defer close(ch)
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	cursor := after
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := s.client.List(ctx, cursor, 0)
			if err != nil {
				continue
			}
			for _, evt := range events {
				select {
				case ch <- evt:
					cursor = evt.Seq
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

type subscription struct {
	cancel context.CancelFunc
}

func (s subscription) Close() error {
	s.cancel()
	return nil
}
