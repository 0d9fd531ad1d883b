package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

var (
	activeStates   = []string{string(item.StateClaimed), string(item.StateRunning)}
	terminalStates = []string{string(item.StateSucceeded), string(item.StateFailed), string(item.StateCanceled)}
)

// Enqueue persists a new pending item.
func (s *Store) Enqueue(ctx context.Context, it *item.Item) error {
	m := toItemModel(it)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return workpool.ErrItemAlreadyExists
		}
		return fmt.Errorf("workpool/sqlite: enqueue item: %w", err)
	}
	return nil
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	m, err := s.load(ctx, s.db, itemID)
	if err != nil {
		return nil, err
	}
	return fromItemModel(m)
}

// Transition applies c to the item if it is in state from.
func (s *Store) Transition(ctx context.Context, itemID id.ItemID, from item.State, c item.Change) (*item.Item, error) {
	return s.mutate(ctx, itemID, "transition", func(ctx context.Context, tx bun.Tx, it *item.Item) (bool, error) {
		if err := item.Apply(it, from, c); err != nil {
			return false, err
		}
		if c.ActiveLimit <= 0 {
			return true, nil
		}

		active, err := tx.NewSelect().
			Model((*itemModel)(nil)).
			Where("pool_key = ?", it.PoolKey).
			Where("state IN (?)", bun.In(activeStates)).
			Count(ctx)
		if err != nil {
			return false, fmt.Errorf("workpool/sqlite: count active: %w", err)
		}
		if active >= c.ActiveLimit {
			return false, workpool.ErrPoolSaturated
		}
		return true, nil
	})
}

// RequestCancel cancels a pending or claimed item, or flags a running one.
func (s *Store) RequestCancel(ctx context.Context, itemID id.ItemID, at time.Time) (*item.Item, error) {
	return s.mutate(ctx, itemID, "request cancel", func(_ context.Context, _ bun.Tx, it *item.Item) (bool, error) {
		return item.ApplyCancel(it, at)
	})
}

// Heartbeat refreshes the heartbeat of a running item held by workerID.
func (s *Store) Heartbeat(ctx context.Context, itemID id.ItemID, workerID id.WorkerID, at time.Time) error {
	_, err := s.mutate(ctx, itemID, "heartbeat", func(_ context.Context, _ bun.Tx, it *item.Item) (bool, error) {
		if err := item.ApplyHeartbeat(it, workerID, at); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// ListEligible returns claimable items of the pool in dispatch order.
func (s *Store) ListEligible(ctx context.Context, poolKey string, now time.Time, limit int) ([]*item.Item, error) {
	var models []itemModel
	q := s.db.NewSelect().
		Model(&models).
		Where("pool_key = ?", poolKey).
		Where("state = ?", string(item.StatePending)).
		Where("next_eligible_at <= ?", now.UnixNano()).
		OrderExpr("priority ASC, enqueued_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("workpool/sqlite: list eligible: %w", err)
	}
	return fromItemModels(models)
}

// ListStale returns active items whose heartbeat is older than cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*item.Item, error) {
	var models []itemModel
	q := s.db.NewSelect().
		Model(&models).
		Where("state IN (?)", bun.In(activeStates)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("heartbeat_at IS NULL").WhereOr("heartbeat_at < ?", cutoff.UnixNano())
		}).
		OrderExpr("heartbeat_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("workpool/sqlite: list stale: %w", err)
	}
	return fromItemModels(models)
}

// CountActive returns the number of claimed or running items in the pool.
func (s *Store) CountActive(ctx context.Context, poolKey string) (int, error) {
	n, err := s.db.NewSelect().
		Model((*itemModel)(nil)).
		Where("pool_key = ?", poolKey).
		Where("state IN (?)", bun.In(activeStates)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("workpool/sqlite: count active: %w", err)
	}
	return n, nil
}

// List returns items matching opts ordered by ID.
func (s *Store) List(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	var models []itemModel
	q := s.db.NewSelect().Model(&models).OrderExpr("id ASC")
	q = applyFilters(q, opts.PoolKey, opts.State, opts.Name)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("workpool/sqlite: list items: %w", err)
	}
	return fromItemModels(models)
}

// Count returns the number of items matching opts.
func (s *Store) Count(ctx context.Context, opts item.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*itemModel)(nil))
	q = applyFilters(q, opts.PoolKey, opts.State, "")
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("workpool/sqlite: count items: %w", err)
	}
	return int64(n), nil
}

// Delete removes an item.
func (s *Store) Delete(ctx context.Context, itemID id.ItemID) error {
	res, err := s.db.NewDelete().
		Model((*itemModel)(nil)).
		Where("id = ?", itemID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("workpool/sqlite: delete item: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports rows affected
	if n == 0 {
		return workpool.ErrItemNotFound
	}
	return nil
}

// PurgeTerminal deletes terminal items completed before the cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*itemModel)(nil)).
		Where("state IN (?)", bun.In(terminalStates)).
		Where("completed_at < ?", before.UnixNano()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("workpool/sqlite: purge terminal: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports rows affected
	return n, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Store) load(ctx context.Context, db bun.IDB, itemID id.ItemID) (*itemModel, error) {
	m := new(itemModel)
	err := db.NewSelect().Model(m).Where("id = ?", itemID.String()).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, workpool.ErrItemNotFound
		}
		return nil, fmt.Errorf("workpool/sqlite: get item: %w", err)
	}
	return m, nil
}

// mutate loads the item inside a transaction, lets fn modify it, and
// writes it back when fn reports a change.
func (s *Store) mutate(
	ctx context.Context,
	itemID id.ItemID,
	op string,
	fn func(context.Context, bun.Tx, *item.Item) (bool, error),
) (*item.Item, error) {
	var out *item.Item
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m, err := s.load(ctx, tx, itemID)
		if err != nil {
			return err
		}
		it, err := fromItemModel(m)
		if err != nil {
			return err
		}

		changed, err := fn(ctx, tx, it)
		if err != nil {
			return err
		}
		if changed {
			if _, err := tx.NewUpdate().Model(toItemModel(it)).WherePK().Exec(ctx); err != nil {
				return fmt.Errorf("workpool/sqlite: %s: %w", op, err)
			}
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyFilters(q *bun.SelectQuery, poolKey string, state item.State, name string) *bun.SelectQuery {
	if poolKey != "" {
		q = q.Where("pool_key = ?", poolKey)
	}
	if state != "" {
		q = q.Where("state = ?", string(state))
	}
	if name != "" {
		q = q.Where("name = ?", name)
	}
	return q
}
