package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// defaultScanSize is how many eligible items one claim attempt inspects.
const defaultScanSize = 16

// Coordinator claims pending items for a worker.
type Coordinator struct {
	store    item.Store
	pools    *Pools
	logger   *slog.Logger
	now      func() time.Time
	scanSize int

	mu   sync.Mutex
	next int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source used for eligibility and claim
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithScanSize sets how many eligible items one attempt inspects before
// giving up on a pool whose head items keep being taken by others.
func WithScanSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.scanSize = n
		}
	}
}

// NewCoordinator creates a Coordinator over store and pools.
func NewCoordinator(store item.Store, pools *Pools, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		pools:    pools,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		scanSize: defaultScanSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pools returns the pool registry.
func (c *Coordinator) Pools() *Pools { return c.pools }

// Claim reserves the first eligible item of poolKey for workerID. It
// returns (nil, nil) when the pool is saturated, rate limited or has no
// eligible work.
func (c *Coordinator) Claim(ctx context.Context, poolKey string, workerID id.WorkerID) (*item.Item, error) {
	limit, err := c.pools.Limit(poolKey)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		return nil, nil
	}

	active, err := c.store.CountActive(ctx, poolKey)
	if err != nil {
		return nil, fmt.Errorf("claim: count active %q: %w", poolKey, err)
	}
	if active >= limit {
		return nil, nil
	}

	now := c.now()
	release, ok := c.pools.reserve(poolKey, now)
	if !ok {
		return nil, nil
	}

	candidates, err := c.store.ListEligible(ctx, poolKey, now, c.scanSize)
	if err != nil {
		release()
		return nil, fmt.Errorf("claim: list eligible %q: %w", poolKey, err)
	}

	for _, cand := range candidates {
		claimed, err := c.store.Transition(ctx, cand.ID, item.StatePending, item.Change{
			To:          item.StateClaimed,
			At:          now,
			WorkerID:    workerID,
			IncAttempts: true,
			Heartbeat:   true,
			ActiveLimit: limit,
		})
		switch {
		case err == nil:
			c.logger.Debug("item claimed",
				slog.String("item_id", claimed.ID.String()),
				slog.String("pool", poolKey),
				slog.Int("attempt", claimed.Attempts),
			)
			return claimed, nil
		case errors.Is(err, workpool.ErrConflict), errors.Is(err, workpool.ErrItemNotFound):
			// Taken or removed by someone else; try the next one.
			continue
		case errors.Is(err, workpool.ErrPoolSaturated):
			release()
			return nil, nil
		default:
			release()
			return nil, fmt.Errorf("claim: transition %s: %w", cand.ID, err)
		}
	}

	release()
	return nil, nil
}

// ClaimAny claims one item from the first pool in keys that has work,
// starting each call one pool after where the previous success came from
// so a busy pool cannot starve the others. An empty keys claims across
// every configured pool. Pools removed concurrently are skipped.
func (c *Coordinator) ClaimAny(ctx context.Context, keys []string, workerID id.WorkerID) (*item.Item, error) {
	if len(keys) == 0 {
		keys = c.pools.Keys()
	}
	if len(keys) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	start := c.next % len(keys)
	c.mu.Unlock()

	for i := range keys {
		idx := (start + i) % len(keys)
		it, err := c.Claim(ctx, keys[idx], workerID)
		if err != nil {
			if errors.Is(err, workpool.ErrPoolUnknown) {
				continue
			}
			return nil, err
		}
		if it != nil {
			c.mu.Lock()
			c.next = idx + 1
			c.mu.Unlock()
			return it, nil
		}
	}
	return nil, nil
}
