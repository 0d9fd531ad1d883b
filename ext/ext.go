package ext

import (
	"context"
	"time"

	"github.com/xraph/workpool/item"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Item lifecycle hooks
// ──────────────────────────────────────────────────

// ItemEnqueued is called after an item is persisted as pending.
type ItemEnqueued interface {
	OnItemEnqueued(ctx context.Context, it *item.Item) error
}

// ItemClaimed is called after a dispatcher claims an item.
type ItemClaimed interface {
	OnItemClaimed(ctx context.Context, it *item.Item) error
}

// ItemStarted is called when the executor moves an item to running.
type ItemStarted interface {
	OnItemStarted(ctx context.Context, it *item.Item) error
}

// ItemSucceeded is called after an item finishes successfully.
type ItemSucceeded interface {
	OnItemSucceeded(ctx context.Context, it *item.Item, elapsed time.Duration) error
}

// ItemRetrying is called when an attempt fails and the item is returned
// to pending until nextEligibleAt.
type ItemRetrying interface {
	OnItemRetrying(ctx context.Context, it *item.Item, err error, nextEligibleAt time.Time) error
}

// ItemFailed is called when an item fails terminally.
type ItemFailed interface {
	OnItemFailed(ctx context.Context, it *item.Item, err error) error
}

// ItemCanceled is called when an item reaches the canceled state.
type ItemCanceled interface {
	OnItemCanceled(ctx context.Context, it *item.Item) error
}

// ItemReaped is called after the reaper reclaims an item whose worker
// stopped heartbeating. it is the item after the reclaim transition.
type ItemReaped interface {
	OnItemReaped(ctx context.Context, it *item.Item) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
