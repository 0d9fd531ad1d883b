package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/workpool/ext"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// DefaultPollInterval is how often a waiter re-reads the ledger when no
// local terminal event arrives.
const DefaultPollInterval = 2 * time.Second

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Notifier)(nil)
	_ ext.ItemSucceeded = (*Notifier)(nil)
	_ ext.ItemFailed    = (*Notifier)(nil)
	_ ext.ItemCanceled  = (*Notifier)(nil)
)

// Notifier delivers terminal items to waiters and completion callbacks.
type Notifier struct {
	store        item.Store
	logger       *slog.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	waiters map[string]map[chan *item.Item]struct{}
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// WithPollInterval sets the store poll fallback interval.
func WithPollInterval(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.pollInterval = d
		}
	}
}

// New creates a Notifier over store.
func New(store item.Store, opts ...Option) *Notifier {
	n := &Notifier{
		store:        store,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		waiters:      make(map[string]map[chan *item.Item]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements ext.Extension.
func (n *Notifier) Name() string { return "notifier" }

// OnItemSucceeded implements ext.ItemSucceeded.
func (n *Notifier) OnItemSucceeded(_ context.Context, it *item.Item, _ time.Duration) error {
	n.Notify(it)
	return nil
}

// OnItemFailed implements ext.ItemFailed.
func (n *Notifier) OnItemFailed(_ context.Context, it *item.Item, _ error) error {
	n.Notify(it)
	return nil
}

// OnItemCanceled implements ext.ItemCanceled.
func (n *Notifier) OnItemCanceled(_ context.Context, it *item.Item) error {
	n.Notify(it)
	return nil
}

// Notify wakes every waiter of it if it is terminal.
func (n *Notifier) Notify(it *item.Item) {
	if it == nil || !it.State.IsTerminal() {
		return
	}

	n.mu.Lock()
	chans := n.waiters[it.ID.String()]
	delete(n.waiters, it.ID.String())
	n.mu.Unlock()

	for ch := range chans {
		ch <- it.Clone()
	}
}

// Status returns the current snapshot of an item.
func (n *Notifier) Status(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	return n.store.Get(ctx, itemID)
}

// Cancel requests cancellation of an item. Pending and claimed items are
// canceled at once and their waiters woken; running items are flagged and
// finish as canceled when their attempt ends. Terminal items return
// workpool.ErrAlreadyTerminal.
func (n *Notifier) Cancel(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	it, err := n.store.RequestCancel(ctx, itemID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	n.Notify(it)
	return it, nil
}

// Await blocks until the item is terminal or ctx is done and returns the
// terminal snapshot. It returns workpool.ErrItemNotFound for unknown IDs.
func (n *Notifier) Await(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	ch := n.subscribe(itemID)
	defer n.unsubscribe(itemID, ch)

	// Subscribe before reading so a completion between the read and the
	// wait is not lost.
	it, err := n.store.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.State.IsTerminal() {
		return it, nil
	}

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case done := <-ch:
			return done, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("await %s: %w", itemID, ctx.Err())
		case <-ticker.C:
			it, err := n.store.Get(ctx, itemID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("await %s: %w", itemID, ctx.Err())
				}
				n.logger.Warn("await: poll failed",
					slog.String("item_id", itemID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if it.State.IsTerminal() {
				return it, nil
			}
		}
	}
}

// OnComplete calls fn with the terminal snapshot once the item finishes.
// fn runs on its own goroutine. The wait ends without calling fn when ctx
// is done. Unknown IDs return workpool.ErrItemNotFound synchronously.
func (n *Notifier) OnComplete(ctx context.Context, itemID id.ItemID, fn func(*item.Item)) error {
	if _, err := n.store.Get(ctx, itemID); err != nil {
		return err
	}

	go func() {
		it, err := n.Await(ctx, itemID)
		if err != nil {
			n.logger.Debug("completion callback dropped",
				slog.String("item_id", itemID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		fn(it)
	}()
	return nil
}

// Waiters returns the number of goroutines waiting on itemID.
func (n *Notifier) Waiters(itemID id.ItemID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters[itemID.String()])
}

func (n *Notifier) subscribe(itemID id.ItemID) chan *item.Item {
	ch := make(chan *item.Item, 1)
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.waiters[itemID.String()]
	if !ok {
		set = make(map[chan *item.Item]struct{})
		n.waiters[itemID.String()] = set
	}
	set[ch] = struct{}{}
	return ch
}

func (n *Notifier) unsubscribe(itemID id.ItemID, ch chan *item.Item) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.waiters[itemID.String()]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(n.waiters, itemID.String())
	}
}
