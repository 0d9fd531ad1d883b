package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

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
	_, err := s.items().InsertOne(ctx, toItemModel(it))
	if err != nil {
		if isDuplicateKey(err) {
			return workpool.ErrItemAlreadyExists
		}
		return fmt.Errorf("workpool/mongo: enqueue item: %w", err)
	}
	return nil
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	var m itemModel
	err := s.items().FindOne(ctx, bson.M{"_id": itemID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, workpool.ErrItemNotFound
		}
		return nil, fmt.Errorf("workpool/mongo: get item: %w", err)
	}
	return fromItemModel(&m)
}

// Transition applies c to the item if it is in state from. Claims with an
// active limit also bump the pool document so concurrent claims on the same
// pool conflict and retry.
func (s *Store) Transition(ctx context.Context, itemID id.ItemID, from item.State, c item.Change) (*item.Item, error) {
	return s.mutate(ctx, itemID, "transition", func(ctx context.Context, it *item.Item) (bool, error) {
		if err := item.Apply(it, from, c); err != nil {
			return false, err
		}
		if c.ActiveLimit <= 0 {
			return true, nil
		}

		_, err := s.db.Collection(colPools).UpdateOne(ctx,
			bson.M{"_id": it.PoolKey},
			bson.M{"$inc": bson.M{"claims": 1}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return false, fmt.Errorf("workpool/mongo: touch pool: %w", err)
		}
		active, err := s.items().CountDocuments(ctx, bson.M{
			"pool_key": it.PoolKey,
			"state":    bson.M{"$in": activeStates},
		})
		if err != nil {
			return false, fmt.Errorf("workpool/mongo: count active: %w", err)
		}
		if active >= int64(c.ActiveLimit) {
			return false, workpool.ErrPoolSaturated
		}
		return true, nil
	})
}

// RequestCancel cancels a pending or claimed item, or flags a running one.
func (s *Store) RequestCancel(ctx context.Context, itemID id.ItemID, at time.Time) (*item.Item, error) {
	return s.mutate(ctx, itemID, "request cancel", func(_ context.Context, it *item.Item) (bool, error) {
		return item.ApplyCancel(it, at)
	})
}

// Heartbeat refreshes the heartbeat of a running item held by workerID.
func (s *Store) Heartbeat(ctx context.Context, itemID id.ItemID, workerID id.WorkerID, at time.Time) error {
	res, err := s.items().UpdateOne(ctx,
		bson.M{
			"_id":       itemID.String(),
			"state":     string(item.StateRunning),
			"worker_id": workerID.String(),
		},
		bson.M{"$set": bson.M{
			"heartbeat_at": at.UnixNano(),
			"updated_at":   at.UnixNano(),
		}},
	)
	if err != nil {
		return fmt.Errorf("workpool/mongo: heartbeat item: %w", err)
	}
	if res.MatchedCount > 0 {
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
	filter := bson.M{
		"pool_key":         poolKey,
		"state":            string(item.StatePending),
		"next_eligible_at": bson.M{"$lte": now.UnixNano()},
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: 1},
		{Key: "enqueued_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, "list eligible", filter, opts)
}

// ListStale returns active items whose heartbeat is older than cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*item.Item, error) {
	filter := bson.M{
		"state": bson.M{"$in": activeStates},
		"$or": bson.A{
			bson.M{"heartbeat_at": nil},
			bson.M{"heartbeat_at": bson.M{"$lt": cutoff.UnixNano()}},
		},
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "heartbeat_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, "list stale", filter, opts)
}

// CountActive returns the number of claimed or running items in the pool.
func (s *Store) CountActive(ctx context.Context, poolKey string) (int, error) {
	n, err := s.items().CountDocuments(ctx, bson.M{
		"pool_key": poolKey,
		"state":    bson.M{"$in": activeStates},
	})
	if err != nil {
		return 0, fmt.Errorf("workpool/mongo: count active: %w", err)
	}
	return int(n), nil
}

// List returns items matching opts ordered by ID.
func (s *Store) List(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	return s.find(ctx, "list items", filterFor(opts.PoolKey, opts.State, opts.Name), findOpts)
}

// Count returns the number of items matching opts.
func (s *Store) Count(ctx context.Context, opts item.CountOpts) (int64, error) {
	n, err := s.items().CountDocuments(ctx, filterFor(opts.PoolKey, opts.State, ""))
	if err != nil {
		return 0, fmt.Errorf("workpool/mongo: count items: %w", err)
	}
	return n, nil
}

// Delete removes an item.
func (s *Store) Delete(ctx context.Context, itemID id.ItemID) error {
	res, err := s.items().DeleteOne(ctx, bson.M{"_id": itemID.String()})
	if err != nil {
		return fmt.Errorf("workpool/mongo: delete item: %w", err)
	}
	if res.DeletedCount == 0 {
		return workpool.ErrItemNotFound
	}
	return nil
}

// PurgeTerminal deletes terminal items completed before the cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.items().DeleteMany(ctx, bson.M{
		"state":        bson.M{"$in": terminalStates},
		"completed_at": bson.M{"$lt": before.UnixNano()},
	})
	if err != nil {
		return 0, fmt.Errorf("workpool/mongo: purge terminal: %w", err)
	}
	return res.DeletedCount, nil
}

// ── helpers ──────────────────────────────────────────────────────

// mutate loads the item in a transaction, lets fn modify it, and replaces
// the document when fn reports a change. The driver retries the callback on
// transient write conflicts.
func (s *Store) mutate(
	ctx context.Context,
	itemID id.ItemID,
	op string,
	fn func(context.Context, *item.Item) (bool, error),
) (*item.Item, error) {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("workpool/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	out, err := sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		var m itemModel
		if err := s.items().FindOne(ctx, bson.M{"_id": itemID.String()}).Decode(&m); err != nil {
			if isNoDocuments(err) {
				return nil, workpool.ErrItemNotFound
			}
			return nil, fmt.Errorf("workpool/mongo: get item: %w", err)
		}
		it, err := fromItemModel(&m)
		if err != nil {
			return nil, err
		}

		changed, err := fn(ctx, it)
		if err != nil {
			return nil, err
		}
		if changed {
			if _, err := s.items().ReplaceOne(ctx, bson.M{"_id": m.ID}, toItemModel(it)); err != nil {
				return nil, fmt.Errorf("workpool/mongo: %s: %w", op, err)
			}
		}
		return it, nil
	})
	if err != nil {
		return nil, err
	}
	it, ok := out.(*item.Item)
	if !ok {
		return nil, fmt.Errorf("workpool/mongo: %s: unexpected transaction result %T", op, out)
	}
	return it, nil
}

func (s *Store) find(ctx context.Context, op string, filter any, opts *options.FindOptionsBuilder) ([]*item.Item, error) {
	cursor, err := s.items().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("workpool/mongo: %s: %w", op, err)
	}
	var models []itemModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("workpool/mongo: %s decode: %w", op, err)
	}
	return fromItemModels(models)
}

func filterFor(poolKey string, state item.State, name string) bson.M {
	filter := bson.M{}
	if poolKey != "" {
		filter["pool_key"] = poolKey
	}
	if state != "" {
		filter["state"] = string(state)
	}
	if name != "" {
		filter["name"] = name
	}
	return filter
}
