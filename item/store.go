package item

import (
	"context"
	"time"

	"github.com/xraph/workpool/id"
)

// ListOpts controls pagination and filtering for item list queries.
type ListOpts struct {
	// Limit is the maximum number of items to return. Zero means no limit.
	Limit int
	// Offset is the number of items to skip.
	Offset int
	// PoolKey filters by pool. Empty means all pools.
	PoolKey string
	// State filters by state. Empty means all states.
	State State
	// Name filters by handler name. Empty means all names.
	Name string
}

// CountOpts controls filtering for item count queries.
type CountOpts struct {
	// PoolKey filters by pool. Empty means all pools.
	PoolKey string
	// State filters by state. Empty means all states.
	State State
}

// Store is the ledger: durable storage of items and the sole authority
// for state transitions.
type Store interface {
	// Enqueue persists a new pending item. Returns
	// workpool.ErrItemAlreadyExists if the ID is taken.
	Enqueue(ctx context.Context, it *Item) error

	// Get retrieves an item by ID. Returns workpool.ErrItemNotFound.
	Get(ctx context.Context, itemID id.ItemID) (*Item, error)

	// Transition atomically moves the item from the expected state
	// according to c (see [Apply]) and returns the updated item. Returns
	// workpool.ErrConflict when a precondition fails and
	// workpool.ErrPoolSaturated when c.ActiveLimit is reached.
	Transition(ctx context.Context, itemID id.ItemID, from State, c Change) (*Item, error)

	// RequestCancel atomically applies [ApplyCancel] and returns the
	// updated item.
	RequestCancel(ctx context.Context, itemID id.ItemID, at time.Time) (*Item, error)

	// Heartbeat refreshes HeartbeatAt of a running item held by workerID.
	// Returns workpool.ErrConflict otherwise.
	Heartbeat(ctx context.Context, itemID id.ItemID, workerID id.WorkerID, at time.Time) error

	// ListEligible returns up to limit pending items of the pool whose
	// NextEligibleAt is not after now, in dispatch order (see [Less]).
	ListEligible(ctx context.Context, poolKey string, now time.Time, limit int) ([]*Item, error)

	// ListStale returns up to limit claimed or running items whose
	// heartbeat is older than cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Item, error)

	// CountActive returns the number of claimed or running items in the pool.
	CountActive(ctx context.Context, poolKey string) (int, error)

	// List returns items matching opts, oldest first.
	List(ctx context.Context, opts ListOpts) ([]*Item, error)

	// Count returns the number of items matching opts.
	Count(ctx context.Context, opts CountOpts) (int64, error)

	// Delete removes an item. Returns workpool.ErrItemNotFound.
	Delete(ctx context.Context, itemID id.ItemID) error

	// PurgeTerminal deletes terminal items completed before the cutoff and
	// returns how many were removed.
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}
