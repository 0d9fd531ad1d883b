// Package memory provides a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// Ensure Store implements item.Store at compile time.
// We can't import store here (import cycle in tests), so we verify the
// ledger contract.
var _ item.Store = (*Store)(nil)

// Store holds items in a map guarded by a single mutex. Every transition
// runs under the write lock, which makes the state compare and the
// active-limit check one atomic step.
type Store struct {
	mu     sync.RWMutex
	items  map[string]*item.Item
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		items: make(map[string]*item.Item),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return workpool.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail with
// workpool.ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

// Enqueue persists a new pending item.
func (m *Store) Enqueue(_ context.Context, it *item.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return workpool.ErrStoreClosed
	}

	key := it.ID.String()
	if _, exists := m.items[key]; exists {
		return workpool.ErrItemAlreadyExists
	}
	m.items[key] = it.Clone()
	return nil
}

// Get retrieves an item by ID.
func (m *Store) Get(_ context.Context, itemID id.ItemID) (*item.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, workpool.ErrStoreClosed
	}

	it, ok := m.items[itemID.String()]
	if !ok {
		return nil, workpool.ErrItemNotFound
	}
	return it.Clone(), nil
}

// Transition applies c to the item if it is in state from.
func (m *Store) Transition(_ context.Context, itemID id.ItemID, from item.State, c item.Change) (*item.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, workpool.ErrStoreClosed
	}

	cur, ok := m.items[itemID.String()]
	if !ok {
		return nil, workpool.ErrItemNotFound
	}

	// Mutate a copy so a rejected change leaves the stored item untouched.
	next := cur.Clone()
	if err := item.Apply(next, from, c); err != nil {
		return nil, err
	}
	if c.ActiveLimit > 0 && m.countActiveLocked(cur.PoolKey) >= c.ActiveLimit {
		return nil, workpool.ErrPoolSaturated
	}

	m.items[itemID.String()] = next
	return next.Clone(), nil
}

// RequestCancel cancels a pending or claimed item, or flags a running one.
func (m *Store) RequestCancel(_ context.Context, itemID id.ItemID, at time.Time) (*item.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, workpool.ErrStoreClosed
	}

	it, ok := m.items[itemID.String()]
	if !ok {
		return nil, workpool.ErrItemNotFound
	}
	if _, err := item.ApplyCancel(it, at); err != nil {
		return nil, err
	}
	return it.Clone(), nil
}

// Heartbeat refreshes the heartbeat of a running item held by workerID.
func (m *Store) Heartbeat(_ context.Context, itemID id.ItemID, workerID id.WorkerID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return workpool.ErrStoreClosed
	}

	it, ok := m.items[itemID.String()]
	if !ok {
		return workpool.ErrItemNotFound
	}
	return item.ApplyHeartbeat(it, workerID, at)
}

// ListEligible returns claimable items of the pool in dispatch order.
func (m *Store) ListEligible(_ context.Context, poolKey string, now time.Time, limit int) ([]*item.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, workpool.ErrStoreClosed
	}

	var out []*item.Item
	for _, it := range m.items {
		if it.PoolKey == poolKey && item.IsEligible(it, now) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, k int) bool { return item.Less(out[i], out[k]) })
	return cloneAll(page(out, 0, limit)), nil
}

// ListStale returns active items whose heartbeat is older than cutoff.
func (m *Store) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*item.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, workpool.ErrStoreClosed
	}

	var out []*item.Item
	for _, it := range m.items {
		if item.IsStale(it, cutoff) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, k int) bool { return heartbeatOf(out[i]).Before(heartbeatOf(out[k])) })
	return cloneAll(page(out, 0, limit)), nil
}

// CountActive returns the number of claimed or running items in the pool.
func (m *Store) CountActive(_ context.Context, poolKey string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, workpool.ErrStoreClosed
	}
	return m.countActiveLocked(poolKey), nil
}

// List returns items matching opts, oldest first.
func (m *Store) List(_ context.Context, opts item.ListOpts) ([]*item.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, workpool.ErrStoreClosed
	}

	var out []*item.Item
	for _, it := range m.items {
		if opts.PoolKey != "" && it.PoolKey != opts.PoolKey {
			continue
		}
		if opts.State != "" && it.State != opts.State {
			continue
		}
		if opts.Name != "" && it.Name != opts.Name {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID.String() < out[k].ID.String() })
	return cloneAll(page(out, opts.Offset, opts.Limit)), nil
}

// Count returns the number of items matching opts.
func (m *Store) Count(_ context.Context, opts item.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, workpool.ErrStoreClosed
	}

	var n int64
	for _, it := range m.items {
		if opts.PoolKey != "" && it.PoolKey != opts.PoolKey {
			continue
		}
		if opts.State != "" && it.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// Delete removes an item by ID.
func (m *Store) Delete(_ context.Context, itemID id.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return workpool.ErrStoreClosed
	}

	key := itemID.String()
	if _, ok := m.items[key]; !ok {
		return workpool.ErrItemNotFound
	}
	delete(m.items, key)
	return nil
}

// PurgeTerminal deletes terminal items completed before the cutoff.
func (m *Store) PurgeTerminal(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, workpool.ErrStoreClosed
	}

	var n int64
	for key, it := range m.items {
		if it.State.IsTerminal() && it.CompletedAt != nil && it.CompletedAt.Before(before) {
			delete(m.items, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (m *Store) countActiveLocked(poolKey string) int {
	n := 0
	for _, it := range m.items {
		if it.PoolKey == poolKey && it.State.IsActive() {
			n++
		}
	}
	return n
}

func heartbeatOf(it *item.Item) time.Time {
	if it.HeartbeatAt == nil {
		return time.Time{}
	}
	return *it.HeartbeatAt
}

func page(items []*item.Item, offset, limit int) []*item.Item {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneAll(items []*item.Item) []*item.Item {
	out := make([]*item.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
