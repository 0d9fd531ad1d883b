package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// Ensure Store implements item.Store at compile time.
var _ item.Store = (*Store)(nil)

// FsyncMode defines durability behavior for committed batches.
type FsyncMode int

const (
	// FsyncModeInterval lets Pebble coalesce WAL syncs within
	// FsyncInterval. It is the default.
	FsyncModeInterval FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every commit.
	FsyncModeAlways
	// FsyncModeNever leaves WAL syncing to Pebble's own policy.
	FsyncModeNever
)

// Options configures the Pebble store.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
	// Logger receives store diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a Pebble implementation of store.Store.
type Store struct {
	db        *pebble.DB
	writeSync bool
	logger    *slog.Logger

	// mu serializes read-modify-write cycles.
	mu sync.Mutex
}

// Open creates or opens a Pebble database.
func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("%w: pebble: Options.DataDir is required", workpool.ErrInvalidArgument)
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	if opts.Fsync == FsyncModeInterval {
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}

	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("workpool/pebble: open %s: %w", opts.DataDir, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		db:        db,
		writeSync: opts.Fsync != FsyncModeNever,
		logger:    logger,
	}, nil
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op; the key layout needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping performs a read to verify the database is usable.
func (s *Store) Ping(_ context.Context) error {
	_, closer, err := s.db.Get([]byte(prefixItem))
	if err == nil {
		return closer.Close()
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("workpool/pebble: ping: %w", err)
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

// Enqueue persists a new pending item.
func (s *Store) Enqueue(_ context.Context, it *item.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(it.ID.String()); err == nil {
		return workpool.ErrItemAlreadyExists
	} else if !errors.Is(err, workpool.ErrItemNotFound) {
		return err
	}
	return s.write(nil, it)
}

// Get retrieves an item by ID.
func (s *Store) Get(_ context.Context, itemID id.ItemID) (*item.Item, error) {
	return s.load(itemID.String())
}

// Transition applies c to the item if it is in state from.
func (s *Store) Transition(_ context.Context, itemID id.ItemID, from item.State, c item.Change) (*item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(itemID.String())
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := item.Apply(next, from, c); err != nil {
		return nil, err
	}
	if c.ActiveLimit > 0 {
		n, err := s.countPrefix(activePrefix(cur.PoolKey))
		if err != nil {
			return nil, err
		}
		if n >= c.ActiveLimit {
			return nil, workpool.ErrPoolSaturated
		}
	}
	if err := s.write(cur, next); err != nil {
		return nil, err
	}
	return next, nil
}

// RequestCancel cancels a pending or claimed item, or flags a running one.
func (s *Store) RequestCancel(_ context.Context, itemID id.ItemID, at time.Time) (*item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(itemID.String())
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	changed, err := item.ApplyCancel(next, at)
	if err != nil {
		return nil, err
	}
	if !changed {
		return next, nil
	}
	if err := s.write(cur, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Heartbeat refreshes the heartbeat of a running item held by workerID.
func (s *Store) Heartbeat(_ context.Context, itemID id.ItemID, workerID id.WorkerID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(itemID.String())
	if err != nil {
		return err
	}
	next := cur.Clone()
	if err := item.ApplyHeartbeat(next, workerID, at); err != nil {
		return err
	}
	return s.write(cur, next)
}

// ListEligible scans the pool's dispatch index in order. A pool key that
// embeds the separator can share a prefix with another pool, so entries
// are matched on PoolKey as well.
func (s *Store) ListEligible(_ context.Context, poolKey string, now time.Time, limit int) ([]*item.Item, error) {
	var out []*item.Item
	err := s.scanIndex(pendingPrefix(poolKey), prefixEnd(pendingPrefix(poolKey)), func(it *item.Item) bool {
		if it.PoolKey == poolKey && item.IsEligible(it, now) {
			out = append(out, it)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// ListStale scans the heartbeat index up to cutoff.
func (s *Store) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*item.Item, error) {
	var out []*item.Item
	err := s.scanIndex([]byte(prefixHB), timeBound(prefixHB, cutoff), func(it *item.Item) bool {
		if item.IsStale(it, cutoff) {
			out = append(out, it)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// CountActive counts the pool's active set.
func (s *Store) CountActive(_ context.Context, poolKey string) (int, error) {
	return s.countPrefix(activePrefix(poolKey))
}

// List returns items matching opts, oldest first.
func (s *Store) List(_ context.Context, opts item.ListOpts) ([]*item.Item, error) {
	var out []*item.Item
	skipped := 0
	err := s.scanRecords(func(it *item.Item) bool {
		if !matches(it, opts.PoolKey, opts.State, opts.Name) {
			return true
		}
		if skipped < opts.Offset {
			skipped++
			return true
		}
		out = append(out, it)
		return opts.Limit <= 0 || len(out) < opts.Limit
	})
	return out, err
}

// Count returns the number of items matching opts.
func (s *Store) Count(_ context.Context, opts item.CountOpts) (int64, error) {
	var n int64
	err := s.scanRecords(func(it *item.Item) bool {
		if matches(it, opts.PoolKey, opts.State, "") {
			n++
		}
		return true
	})
	return n, err
}

// Delete removes an item and its index entries.
func (s *Store) Delete(_ context.Context, itemID id.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(itemID.String())
	if err != nil {
		return err
	}
	return s.remove(cur)
}

// PurgeTerminal deletes terminal items completed before the cutoff.
func (s *Store) PurgeTerminal(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []*item.Item
	err := s.scanIndex([]byte(prefixDone), timeBound(prefixDone, before), func(it *item.Item) bool {
		victims = append(victims, it)
		return true
	})
	if err != nil {
		return 0, err
	}

	var n int64
	for _, it := range victims {
		if err := s.remove(it); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Store) load(itemID string) (*item.Item, error) {
	val, closer, err := s.db.Get(itemKey(itemID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, workpool.ErrItemNotFound
		}
		return nil, fmt.Errorf("workpool/pebble: get item: %w", err)
	}
	defer closer.Close()
	return decodeItem(val)
}

// write replaces prev (nil for a new item) with next, moving its index
// entries in the same batch.
func (s *Store) write(prev, next *item.Item) error {
	data, err := encodeItem(next)
	if err != nil {
		return fmt.Errorf("workpool/pebble: encode item: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()

	if prev != nil {
		for _, k := range indexKeys(prev) {
			if err := b.Delete(k, nil); err != nil {
				return fmt.Errorf("workpool/pebble: delete index: %w", err)
			}
		}
	}
	idStr := next.ID.String()
	for _, k := range indexKeys(next) {
		if err := b.Set(k, []byte(idStr), nil); err != nil {
			return fmt.Errorf("workpool/pebble: write index: %w", err)
		}
	}
	if err := b.Set(itemKey(idStr), data, nil); err != nil {
		return fmt.Errorf("workpool/pebble: write item: %w", err)
	}
	return s.commit(b)
}

func (s *Store) remove(it *item.Item) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, k := range indexKeys(it) {
		if err := b.Delete(k, nil); err != nil {
			return fmt.Errorf("workpool/pebble: delete index: %w", err)
		}
	}
	if err := b.Delete(itemKey(it.ID.String()), nil); err != nil {
		return fmt.Errorf("workpool/pebble: delete item: %w", err)
	}
	return s.commit(b)
}

func (s *Store) commit(b *pebble.Batch) error {
	opt := pebble.NoSync
	if s.writeSync {
		opt = pebble.Sync
	}
	if err := b.Commit(opt); err != nil {
		return fmt.Errorf("workpool/pebble: commit: %w", err)
	}
	return nil
}

// indexKeys returns the secondary index keys for the item's current state.
func indexKeys(it *item.Item) [][]byte {
	idStr := it.ID.String()
	switch {
	case it.State == item.StatePending:
		return [][]byte{pendingKey(it.PoolKey, it.Priority, it.EnqueuedAt, idStr)}
	case it.State.IsActive():
		hb := time.Unix(0, 0)
		if it.HeartbeatAt != nil {
			hb = *it.HeartbeatAt
		}
		return [][]byte{activeKey(it.PoolKey, idStr), hbKey(hb, idStr)}
	case it.State.IsTerminal() && it.CompletedAt != nil:
		return [][]byte{doneKey(*it.CompletedAt, idStr)}
	default:
		return nil
	}
}

// scanIndex walks index keys in [lower, upper) and loads the referenced
// items until fn returns false.
func (s *Store) scanIndex(lower, upper []byte, fn func(*item.Item) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("workpool/pebble: iterate: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		it, err := s.load(string(iter.Value()))
		if errors.Is(err, workpool.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !fn(it) {
			break
		}
	}
	return iter.Error()
}

// scanRecords walks every item record in ID order until fn returns false.
func (s *Store) scanRecords(fn func(*item.Item) bool) error {
	lower := []byte(prefixItem)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(lower)})
	if err != nil {
		return fmt.Errorf("workpool/pebble: iterate: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		it, err := decodeItem(iter.Value())
		if err != nil {
			return err
		}
		if !fn(it) {
			break
		}
	}
	return iter.Error()
}

func (s *Store) countPrefix(prefix []byte) (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return 0, fmt.Errorf("workpool/pebble: iterate: %w", err)
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

func matches(it *item.Item, poolKey string, state item.State, name string) bool {
	if poolKey != "" && it.PoolKey != poolKey {
		return false
	}
	if state != "" && it.State != state {
		return false
	}
	return name == "" || it.Name == name
}
