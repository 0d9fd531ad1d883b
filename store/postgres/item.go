package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

const itemColumns = `
	id, name, payload, pool_key, priority, state, attempts, max_attempts,
	enqueued_at, next_eligible_at, heartbeat_at, claimed_at, completed_at,
	worker_id, result, error, cancel_requested, created_at, updated_at`

// Enqueue persists a new pending item.
func (s *Store) Enqueue(ctx context.Context, it *item.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workpool_items (`+itemColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19
		)`,
		it.ID.String(), it.Name, it.Payload, it.PoolKey, it.Priority,
		string(it.State), it.Attempts, it.MaxAttempts,
		it.EnqueuedAt, it.NextEligibleAt, it.HeartbeatAt, it.ClaimedAt, it.CompletedAt,
		it.WorkerID.String(), it.Result, it.Error, it.CancelRequested,
		it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return workpool.ErrItemAlreadyExists
		}
		return fmt.Errorf("workpool/postgres: enqueue item: %w", err)
	}
	return nil
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM workpool_items WHERE id = $1`,
		itemID.String(),
	)
	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workpool.ErrItemNotFound
		}
		return nil, fmt.Errorf("workpool/postgres: get item: %w", err)
	}
	return it, nil
}

// Transition applies c to the item if it is in state from. Claims with an
// active limit serialize on a per-pool advisory lock before counting.
func (s *Store) Transition(ctx context.Context, itemID id.ItemID, from item.State, c item.Change) (*item.Item, error) {
	return s.mutate(ctx, itemID, "transition", func(ctx context.Context, tx pgx.Tx, it *item.Item) (bool, error) {
		poolKey := it.PoolKey
		if err := item.Apply(it, from, c); err != nil {
			return false, err
		}
		if c.ActiveLimit <= 0 {
			return true, nil
		}

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "workpool:"+poolKey); err != nil {
			return false, fmt.Errorf("workpool/postgres: lock pool: %w", err)
		}
		var active int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM workpool_items
			WHERE pool_key = $1 AND state IN ('claimed', 'running')`,
			poolKey,
		).Scan(&active)
		if err != nil {
			return false, fmt.Errorf("workpool/postgres: count active: %w", err)
		}
		if active >= c.ActiveLimit {
			return false, workpool.ErrPoolSaturated
		}
		return true, nil
	})
}

// RequestCancel cancels a pending or claimed item, or flags a running one.
func (s *Store) RequestCancel(ctx context.Context, itemID id.ItemID, at time.Time) (*item.Item, error) {
	return s.mutate(ctx, itemID, "request cancel", func(_ context.Context, _ pgx.Tx, it *item.Item) (bool, error) {
		return item.ApplyCancel(it, at)
	})
}

// Heartbeat refreshes the heartbeat of a running item held by workerID.
func (s *Store) Heartbeat(ctx context.Context, itemID id.ItemID, workerID id.WorkerID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workpool_items SET heartbeat_at = $3, updated_at = $3
		WHERE id = $1 AND state = 'running' AND worker_id = $2`,
		itemID.String(), workerID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("workpool/postgres: heartbeat item: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing item from a lost race.
	if _, err := s.Get(ctx, itemID); err != nil {
		return err
	}
	return fmt.Errorf("%w: item %s is not running under %s", workpool.ErrConflict, itemID, workerID)
}

// ListEligible returns claimable items of the pool in dispatch order.
func (s *Store) ListEligible(ctx context.Context, poolKey string, now time.Time, limit int) ([]*item.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM workpool_items
		WHERE pool_key = $1 AND state = 'pending' AND next_eligible_at <= $2
		ORDER BY priority ASC, enqueued_at ASC, id ASC
		LIMIT NULLIF($3, 0)`,
		poolKey, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("workpool/postgres: list eligible: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListStale returns active items whose heartbeat is older than cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*item.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM workpool_items
		WHERE state IN ('claimed', 'running')
		  AND (heartbeat_at IS NULL OR heartbeat_at < $1)
		ORDER BY heartbeat_at ASC NULLS FIRST
		LIMIT NULLIF($2, 0)`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("workpool/postgres: list stale: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// CountActive returns the number of claimed or running items in the pool.
func (s *Store) CountActive(ctx context.Context, poolKey string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM workpool_items
		WHERE pool_key = $1 AND state IN ('claimed', 'running')`,
		poolKey,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("workpool/postgres: count active: %w", err)
	}
	return n, nil
}

// List returns items matching opts, oldest first.
func (s *Store) List(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM workpool_items WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.PoolKey != "" {
		query += fmt.Sprintf(" AND pool_key = $%d", argIdx)
		args = append(args, opts.PoolKey)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}
	if opts.Name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, opts.Name)
		argIdx++
	}

	query += " ORDER BY id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workpool/postgres: list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// Count returns the number of items matching opts.
func (s *Store) Count(ctx context.Context, opts item.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM workpool_items WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.PoolKey != "" {
		query += fmt.Sprintf(" AND pool_key = $%d", argIdx)
		args = append(args, opts.PoolKey)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("workpool/postgres: count items: %w", err)
	}
	return count, nil
}

// Delete removes an item by ID.
func (s *Store) Delete(ctx context.Context, itemID id.ItemID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workpool_items WHERE id = $1`, itemID.String())
	if err != nil {
		return fmt.Errorf("workpool/postgres: delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workpool.ErrItemNotFound
	}
	return nil
}

// PurgeTerminal deletes terminal items completed before the cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM workpool_items
		WHERE state IN ('succeeded', 'failed', 'canceled') AND completed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("workpool/postgres: purge terminal: %w", err)
	}
	return tag.RowsAffected(), nil
}

// mutate loads the item under a row lock, lets fn change it, and writes it
// back in the same transaction. fn reports whether anything changed.
func (s *Store) mutate(
	ctx context.Context,
	itemID id.ItemID,
	op string,
	fn func(ctx context.Context, tx pgx.Tx, it *item.Item) (bool, error),
) (*item.Item, error) {
	var out *item.Item
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM workpool_items WHERE id = $1 FOR UPDATE`,
			itemID.String(),
		)
		it, err := scanItem(row)
		if err != nil {
			if isNoRows(err) {
				return workpool.ErrItemNotFound
			}
			return fmt.Errorf("workpool/postgres: %s: load: %w", op, err)
		}

		changed, err := fn(ctx, tx, it)
		if err != nil {
			return err
		}
		out = it
		if !changed {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE workpool_items SET
				state = $2, attempts = $3, next_eligible_at = $4,
				heartbeat_at = $5, claimed_at = $6, completed_at = $7,
				worker_id = $8, result = $9, error = $10,
				cancel_requested = $11, updated_at = $12
			WHERE id = $1`,
			it.ID.String(), string(it.State), it.Attempts, it.NextEligibleAt,
			it.HeartbeatAt, it.ClaimedAt, it.CompletedAt,
			it.WorkerID.String(), it.Result, it.Error,
			it.CancelRequested, it.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("workpool/postgres: %s: update: %w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scanItem scans a single item row.
func scanItem(row pgx.Row) (*item.Item, error) {
	var (
		it        item.Item
		idStr     string
		stateStr  string
		workerStr string
	)
	err := row.Scan(
		&idStr, &it.Name, &it.Payload, &it.PoolKey, &it.Priority,
		&stateStr, &it.Attempts, &it.MaxAttempts,
		&it.EnqueuedAt, &it.NextEligibleAt, &it.HeartbeatAt, &it.ClaimedAt, &it.CompletedAt,
		&workerStr, &it.Result, &it.Error, &it.CancelRequested,
		&it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	it.State = item.State(stateStr)

	parsedID, parseErr := id.ParseItemID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("workpool/postgres: parse item id %q: %w", idStr, parseErr)
	}
	it.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			it.WorkerID = parsedWorker
		}
	}

	normalizeTimes(&it)
	return &it, nil
}

// collectItems collects all items from query rows.
func collectItems(rows pgx.Rows) ([]*item.Item, error) {
	var items []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("workpool/postgres: scan item row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workpool/postgres: iterate item rows: %w", err)
	}
	return items, nil
}

// normalizeTimes converts scanned timestamps to UTC.
func normalizeTimes(it *item.Item) {
	it.EnqueuedAt = it.EnqueuedAt.UTC()
	it.NextEligibleAt = it.NextEligibleAt.UTC()
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	for _, p := range []**time.Time{&it.HeartbeatAt, &it.ClaimedAt, &it.CompletedAt} {
		if *p != nil {
			v := (*p).UTC()
			*p = &v
		}
	}
}
