// Package pulse decorates an elog.Store with Pulse-backed fan-out: every
// Append is published to a shared Pulse stream in addition to being recorded
// by the underlying store, giving Subscribe push delivery across processes
// instead of the polling fallback used when a Mongo store is queried
// directly.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"choiros.io/kernel/elog"
	clientspulse "choiros.io/kernel/elog/pulse/clients/pulse"
	"github.com/google/uuid"
)

const streamName = "choiros.kernel.events"

// Store wraps an underlying elog.Store, publishing every Append to a Pulse
// stream. Get, List, and the initial backlog portion of Subscribe are served
// by the underlying store; new events arrive over the Pulse stream.
type Store struct {
	underlying elog.Store
	client     clientspulse.Client
}

// NewStore wraps underlying with Pulse-backed fan-out using client.
func NewStore(underlying elog.Store, client clientspulse.Client) (*Store, error) {
	if underlying == nil {
		return nil, errors.New("underlying store is required")
	}
	if client == nil {
		return nil, errors.New("pulse client is required")
	}
	return &Store{underlying: underlying, client: client}, nil
}

// Append implements elog.Store: the event is recorded by the underlying
// store first (so Seq is authoritative), then published to the Pulse stream.
func (s *Store) Append(ctx context.Context, evt elog.Event) (elog.Event, error) {
	stored, err := s.underlying.Append(ctx, evt)
	if err != nil {
		return elog.Event{}, err
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return elog.Event{}, fmt.Errorf("elog/pulse: marshal event: %w", err)
	}
	str, err := s.client.Stream(streamName)
	if err != nil {
		return elog.Event{}, err
	}
	if _, err := str.Add(ctx, string(stored.Type), payload); err != nil {
		return elog.Event{}, err
	}
	return stored, nil
}

// Get implements elog.Store.
func (s *Store) Get(ctx context.Context, seq int64) (elog.Event, error) {
	return s.underlying.Get(ctx, seq)
}

// List implements elog.Store.
func (s *Store) List(ctx context.Context, after int64, limit int) ([]elog.Event, error) {
	return s.underlying.List(ctx, after, limit)
}

// Subscribe implements elog.Store by replaying the backlog from the
// underlying store and then following new appends via a Pulse consumer
// group sink scoped to this subscription.
func (s *Store) Subscribe(ctx context.Context, after int64) (<-chan elog.Event, elog.Subscription, error) {
	str, err := s.client.Stream(streamName)
	if err != nil {
		return nil, nil, err
	}
	sink, err := str.NewSink(ctx, "sub-"+uuid.NewString())
	if err != nil {
		return nil, nil, err
	}

	backlog, err := s.underlying.List(ctx, after, 0)
	if err != nil {
		sink.Close(ctx)
		return nil, nil, err
	}

	ch := make(chan elog.Event, 256+len(backlog))
	lastSeq := after
	for _, evt := range backlog {
		ch <- evt
		lastSeq = evt.Seq
	}

	sub := &subscription{sink: sink}
	go sub.pump(ctx, ch, lastSeq)
	return ch, sub, nil
}

type subscription struct {
	sink clientspulse.Sink
}

func (sub *subscription) pump(ctx context.Context, ch chan elog.Event, lastSeq int64) {
	defer close(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub.sink.Subscribe():
			if !ok {
				return
			}
			var evt elog.Event
			if err := json.Unmarshal(raw.Payload, &evt); err != nil {
				_ = sub.sink.Ack(ctx, raw)
				continue
			}
			if evt.Seq <= lastSeq {
				_ = sub.sink.Ack(ctx, raw)
				continue
			}
			select {
			case ch <- evt:
				lastSeq = evt.Seq
			case <-ctx.Done():
				return
			}
			_ = sub.sink.Ack(ctx, raw)
		}
	}
}

func (sub *subscription) Close() error {
	sub.sink.Close(context.Background())
	return nil
}
