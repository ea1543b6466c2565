// Package pool runs a distributed sweep that requeues expired work-item
// leases. When multiple scheduler nodes share a Redis instance, Pulse's
// pool.Ticker ensures only one node performs the sweep at a time, with
// automatic failover if that node goes away.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/pulse/pool"

	"choiros.io/kernel/sched"
	"choiros.io/kernel/telemetry"
)

// DefaultSweepInterval is how often the sweeper checks for expired leases.
const DefaultSweepInterval = 5 * time.Second

// Sweeper periodically requeues work items whose lease has expired.
type Sweeper struct {
	store    sched.Store
	node     *pool.Node
	interval time.Duration
	logger   telemetry.Logger

	mu     sync.Mutex
	ticker *pool.Ticker
	cancel context.CancelFunc
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval overrides DefaultSweepInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithLogger attaches a telemetry.Logger for sweep diagnostics.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// NewSweeper builds a Sweeper that uses node's distributed ticker so only one
// node in the pool performs the sweep at any given time.
func NewSweeper(store sched.Store, node *pool.Node, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if node == nil {
		return nil, fmt.Errorf("pool node is required")
	}
	s := &Sweeper{
		store:    store,
		node:     node,
		interval: DefaultSweepInterval,
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	return s, nil
}

// Start begins the sweep loop. Call Stop to release the distributed ticker.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	ticker, err := s.node.NewTicker(loopCtx, "sched:lease-sweep", s.interval)
	if err != nil {
		cancel()
		return fmt.Errorf("create distributed ticker: %w", err)
	}
	s.ticker = ticker
	s.cancel = cancel
	go s.run(loopCtx, ticker)
	return nil
}

// Stop halts the local ticker participation without disturbing other nodes.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.ticker != nil {
		s.ticker.Close()
		s.ticker = nil
	}
}

func (s *Sweeper) run(ctx context.Context, ticker *pool.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	requeued, err := s.store.RequeueExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error(ctx, "lease sweep failed", "component", "sched-pool", "err", err)
		return
	}
	if len(requeued) > 0 {
		s.logger.Info(ctx, "requeued expired leases", "component", "sched-pool", "count", len(requeued), "work_ids", requeued)
	}
}
