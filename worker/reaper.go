package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/ext"
	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/retry"
)

// defaultReapBatch bounds how many stale items one scan handles.
const defaultReapBatch = 100

// Reaper reclaims claimed or running items whose worker stopped sending
// heartbeats. Items with attempts left go back to pending after the retry
// policy's delay; the rest fail with workpool.ErrWorkerLost.
//
// Every reclaim is a compare-and-set guarded by the recorded worker and
// the stale heartbeat, so a reaper loses safely against an executor that
// is still alive.
type Reaper struct {
	store          item.Store
	policy         retry.Policy
	extensions     *ext.Registry
	logger         *slog.Logger
	staleThreshold time.Duration
	batch          int
	now            func() time.Time
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperClock overrides the time source.
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

// WithReapBatch sets how many stale items one scan handles.
func WithReapBatch(n int) ReaperOption {
	return func(r *Reaper) {
		if n > 0 {
			r.batch = n
		}
	}
}

// NewReaper creates a Reaper that treats items without a heartbeat for
// staleThreshold as lost.
func NewReaper(
	store item.Store,
	policy retry.Policy,
	extensions *ext.Registry,
	staleThreshold time.Duration,
	logger *slog.Logger,
	opts ...ReaperOption,
) *Reaper {
	r := &Reaper{
		store:          store,
		policy:         policy,
		extensions:     extensions,
		logger:         logger,
		staleThreshold: staleThreshold,
		batch:          defaultReapBatch,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reap runs one scan and returns how many items were reclaimed.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.staleThreshold)

	stale, err := r.store.ListStale(ctx, cutoff, r.batch)
	if err != nil {
		return 0, fmt.Errorf("reap: list stale: %w", err)
	}

	reaped := 0
	for _, it := range stale {
		ok, err := r.reclaim(ctx, it, now, cutoff)
		if err != nil {
			r.logger.Error("reap: failed to reclaim item",
				slog.String("item_id", it.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			reaped++
		}
	}
	return reaped, nil
}

func (r *Reaper) reclaim(ctx context.Context, it *item.Item, now, cutoff time.Time) (bool, error) {
	change := item.Change{
		At:          now,
		Owner:       it.WorkerID,
		StaleBefore: cutoff,
	}
	if it.Attempts >= it.MaxAttempts {
		change.To = item.StateFailed
		change.Error = workpool.ErrWorkerLost.Error()
	} else {
		change.To = item.StatePending
		change.NextEligibleAt = now.Add(r.policy.Delay(it.Attempts))
	}

	next, err := r.store.Transition(ctx, it.ID, it.State, change)
	if err != nil {
		if errors.Is(err, workpool.ErrConflict) || errors.Is(err, workpool.ErrItemNotFound) {
			// Heartbeat recovered, or the executor finished first.
			return false, nil
		}
		return false, err
	}

	r.logger.Warn("reaped stale item",
		slog.String("item_id", it.ID.String()),
		slog.String("item_name", it.Name),
		slog.String("pool", it.PoolKey),
		slog.String("lost_worker", it.WorkerID.String()),
		slog.String("state", string(next.State)),
	)

	r.extensions.EmitItemReaped(ctx, next)
	switch next.State {
	case item.StateFailed:
		r.extensions.EmitItemFailed(ctx, next, workpool.ErrWorkerLost)
	case item.StateCanceled:
		r.extensions.EmitItemCanceled(ctx, next)
	}
	return true, nil
}

// Janitor deletes terminal items older than the retention window.
type Janitor struct {
	store     item.Store
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewJanitor creates a Janitor. A zero retention makes Purge a no-op.
func NewJanitor(store item.Store, retention time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:     store,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Purge removes terminal items completed more than the retention window
// ago and returns how many were deleted.
func (j *Janitor) Purge(ctx context.Context) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	n, err := j.store.PurgeTerminal(ctx, j.now().Add(-j.retention))
	if err != nil {
		return 0, fmt.Errorf("purge terminal items: %w", err)
	}
	if n > 0 {
		j.logger.Info("purged terminal items", slog.Int64("count", n))
	}
	return n, nil
}
