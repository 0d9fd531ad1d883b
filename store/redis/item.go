package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// scanBatch is the number of documents fetched per MGET during scans.
const scanBatch = 256

// Enqueue stores the item document and adds it to the pool's pending set.
func (s *Store) Enqueue(ctx context.Context, it *item.Item) error {
	key := itemKey(it.ID.String())
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("workpool/redis: encode item: %w", err)
	}

	return s.retry(ctx, "enqueue", func() error {
		return s.client.Watch(ctx, func(tx *goredis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("workpool/redis: enqueue check exists: %w", err)
			}
			if n > 0 {
				return workpool.ErrItemAlreadyExists
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				pipe.ZAdd(ctx, idsKey, goredis.Z{Score: 0, Member: it.ID.String()})
				writeIndexes(ctx, pipe, it)
				return nil
			})
			return err
		}, key)
	})
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	return getItem(ctx, s.client, itemID.String())
}

// Transition applies c to the item if it is in state from. A claim with an
// active limit watches the pool's active set before counting it.
func (s *Store) Transition(ctx context.Context, itemID id.ItemID, from item.State, c item.Change) (*item.Item, error) {
	return s.mutate(ctx, itemID, "transition", func(tx *goredis.Tx, it *item.Item) (bool, error) {
		if err := item.Apply(it, from, c); err != nil {
			return false, err
		}
		if c.ActiveLimit <= 0 {
			return true, nil
		}

		if err := tx.Watch(ctx, activeKey(it.PoolKey)).Err(); err != nil {
			return false, fmt.Errorf("workpool/redis: watch active set: %w", err)
		}
		active, err := tx.SCard(ctx, activeKey(it.PoolKey)).Result()
		if err != nil {
			return false, fmt.Errorf("workpool/redis: count active: %w", err)
		}
		if active >= int64(c.ActiveLimit) {
			return false, workpool.ErrPoolSaturated
		}
		return true, nil
	})
}

// RequestCancel cancels a pending or claimed item, or flags a running one.
func (s *Store) RequestCancel(ctx context.Context, itemID id.ItemID, at time.Time) (*item.Item, error) {
	return s.mutate(ctx, itemID, "request cancel", func(_ *goredis.Tx, it *item.Item) (bool, error) {
		return item.ApplyCancel(it, at)
	})
}

// Heartbeat refreshes the heartbeat of a running item held by workerID.
func (s *Store) Heartbeat(ctx context.Context, itemID id.ItemID, workerID id.WorkerID, at time.Time) error {
	_, err := s.mutate(ctx, itemID, "heartbeat", func(_ *goredis.Tx, it *item.Item) (bool, error) {
		if err := item.ApplyHeartbeat(it, workerID, at); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// ListEligible returns claimable items of the pool in dispatch order.
func (s *Store) ListEligible(ctx context.Context, poolKey string, now time.Time, limit int) ([]*item.Item, error) {
	ids, err := s.client.ZRangeByScore(ctx, pendingKey(poolKey), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("workpool/redis: list eligible: %w", err)
	}

	candidates, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, it := range candidates {
		if it.PoolKey == poolKey && item.IsEligible(it, now) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return item.Less(out[i], out[j]) })
	return truncate(out, limit), nil
}

// ListStale returns active items whose heartbeat is older than cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*item.Item, error) {
	ids, err := s.client.ZRangeByScore(ctx, heartbeatsKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("workpool/redis: list stale: %w", err)
	}

	candidates, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, it := range candidates {
		if item.IsStale(it, cutoff) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return staleLess(out[i], out[j]) })
	return truncate(out, limit), nil
}

// CountActive returns the number of claimed or running items in the pool.
func (s *Store) CountActive(ctx context.Context, poolKey string) (int, error) {
	n, err := s.client.SCard(ctx, activeKey(poolKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("workpool/redis: count active: %w", err)
	}
	return int(n), nil
}

// List returns items matching opts ordered by ID.
func (s *Store) List(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	var out []*item.Item
	skipped := 0
	err := s.scan(ctx, func(it *item.Item) bool {
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
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of items matching opts.
func (s *Store) Count(ctx context.Context, opts item.CountOpts) (int64, error) {
	var n int64
	err := s.scan(ctx, func(it *item.Item) bool {
		if matches(it, opts.PoolKey, opts.State, "") {
			n++
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Delete removes an item and its index entries.
func (s *Store) Delete(ctx context.Context, itemID id.ItemID) error {
	key := itemKey(itemID.String())
	return s.retry(ctx, "delete", func() error {
		return s.client.Watch(ctx, func(tx *goredis.Tx) error {
			it, err := getItem(ctx, tx, itemID.String())
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, idsKey, it.ID.String())
				clearIndexes(ctx, pipe, it)
				return nil
			})
			return err
		}, key)
	})
}

// PurgeTerminal deletes terminal items completed before the cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, doneKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("workpool/redis: purge terminal: %w", err)
	}

	candidates, err := s.fetch(ctx, ids)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, it := range candidates {
		if !it.State.IsTerminal() || it.CompletedAt == nil || !it.CompletedAt.Before(before) {
			continue
		}
		if err := s.Delete(ctx, it.ID); err != nil {
			if errors.Is(err, workpool.ErrItemNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// ── helpers ──

// retry runs fn until it stops failing with a lost WATCH race.
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	for range s.maxRetries {
		err := fn()
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	s.logger.Warn("redis transaction retries exhausted", "op", op, "retries", s.maxRetries)
	return fmt.Errorf("%w: %s: too much contention", workpool.ErrConflict, op)
}

// mutate loads the item under WATCH, lets fn modify it, and commits the new
// document with its index moves when fn reports a change.
func (s *Store) mutate(
	ctx context.Context,
	itemID id.ItemID,
	op string,
	fn func(*goredis.Tx, *item.Item) (bool, error),
) (*item.Item, error) {
	key := itemKey(itemID.String())
	var out *item.Item

	err := s.retry(ctx, op, func() error {
		return s.client.Watch(ctx, func(tx *goredis.Tx) error {
			it, err := getItem(ctx, tx, itemID.String())
			if err != nil {
				return err
			}
			prev := it.Clone()

			changed, err := fn(tx, it)
			if err != nil {
				return err
			}
			if !changed {
				out = it
				return nil
			}

			data, err := json.Marshal(it)
			if err != nil {
				return fmt.Errorf("workpool/redis: encode item: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				clearIndexes(ctx, pipe, prev)
				writeIndexes(ctx, pipe, it)
				return nil
			})
			if err != nil {
				return err
			}
			out = it
			return nil
		}, key)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// clearIndexes removes it from every index its state placed it in.
func clearIndexes(ctx context.Context, pipe goredis.Pipeliner, it *item.Item) {
	member := it.ID.String()
	switch {
	case it.State == item.StatePending:
		pipe.ZRem(ctx, pendingKey(it.PoolKey), member)
	case it.State.IsActive():
		pipe.SRem(ctx, activeKey(it.PoolKey), member)
		pipe.ZRem(ctx, heartbeatsKey, member)
	case it.State.IsTerminal():
		pipe.ZRem(ctx, doneKey, member)
	}
}

// writeIndexes adds it to the indexes of its current state.
func writeIndexes(ctx context.Context, pipe goredis.Pipeliner, it *item.Item) {
	member := it.ID.String()
	switch {
	case it.State == item.StatePending:
		pipe.ZAdd(ctx, pendingKey(it.PoolKey), goredis.Z{
			Score:  float64(it.NextEligibleAt.UnixMilli()),
			Member: member,
		})
	case it.State.IsActive():
		pipe.SAdd(ctx, activeKey(it.PoolKey), member)
		pipe.ZAdd(ctx, heartbeatsKey, goredis.Z{Score: heartbeatScore(it), Member: member})
	case it.State.IsTerminal():
		var score float64
		if it.CompletedAt != nil {
			score = float64(it.CompletedAt.UnixMilli())
		}
		pipe.ZAdd(ctx, doneKey, goredis.Z{Score: score, Member: member})
	}
}

// heartbeatScore is zero for items that never heartbeated, which places
// them below any real cutoff.
func heartbeatScore(it *item.Item) float64 {
	if it.HeartbeatAt == nil {
		return 0
	}
	return float64(it.HeartbeatAt.UnixMilli())
}

// staleLess orders items without a heartbeat first, then by heartbeat age.
func staleLess(a, b *item.Item) bool {
	switch {
	case a.HeartbeatAt == nil && b.HeartbeatAt != nil:
		return true
	case a.HeartbeatAt != nil && b.HeartbeatAt == nil:
		return false
	case a.HeartbeatAt != nil && !a.HeartbeatAt.Equal(*b.HeartbeatAt):
		return a.HeartbeatAt.Before(*b.HeartbeatAt)
	}
	return a.ID.String() < b.ID.String()
}

func getItem(ctx context.Context, c goredis.Cmdable, itemID string) (*item.Item, error) {
	data, err := c.Get(ctx, itemKey(itemID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, workpool.ErrItemNotFound
		}
		return nil, fmt.Errorf("workpool/redis: get item: %w", err)
	}
	return decodeItem(data)
}

func decodeItem(data []byte) (*item.Item, error) {
	it := new(item.Item)
	if err := json.Unmarshal(data, it); err != nil {
		return nil, fmt.Errorf("workpool/redis: decode item: %w", err)
	}
	return it, nil
}

// fetch loads the documents for ids, skipping IDs deleted since the index
// was read.
func (s *Store) fetch(ctx context.Context, ids []string) ([]*item.Item, error) {
	out := make([]*item.Item, 0, len(ids))
	for start := 0; start < len(ids); start += scanBatch {
		end := min(start+scanBatch, len(ids))
		keys := make([]string, 0, end-start)
		for _, itemID := range ids[start:end] {
			keys = append(keys, itemKey(itemID))
		}

		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("workpool/redis: fetch items: %w", err)
		}
		for _, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			it, err := decodeItem([]byte(raw))
			if err != nil {
				return nil, err
			}
			out = append(out, it)
		}
	}
	return out, nil
}

// scan walks every item in ID order until fn returns false.
func (s *Store) scan(ctx context.Context, fn func(*item.Item) bool) error {
	for start := int64(0); ; start += scanBatch {
		ids, err := s.client.ZRange(ctx, idsKey, start, start+scanBatch-1).Result()
		if err != nil {
			return fmt.Errorf("workpool/redis: scan items: %w", err)
		}
		items, err := s.fetch(ctx, ids)
		if err != nil {
			return err
		}
		for _, it := range items {
			if !fn(it) {
				return nil
			}
		}
		if len(ids) < scanBatch {
			return nil
		}
	}
}

func matches(it *item.Item, poolKey string, state item.State, name string) bool {
	if poolKey != "" && it.PoolKey != poolKey {
		return false
	}
	if state != "" && it.State != state {
		return false
	}
	if name != "" && it.Name != name {
		return false
	}
	return true
}

func truncate(items []*item.Item, limit int) []*item.Item {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
