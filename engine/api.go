package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/claim"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// Register registers a typed work definition with the engine.
func Register[In, Out any](eng *Engine, def *item.Definition[In, Out]) {
	item.RegisterDefinition(eng.registry, def)
}

// RegisterFunc registers a raw handler over encoded payloads.
func (eng *Engine) RegisterFunc(name string, h item.HandlerFunc, opts ...item.Option) {
	eng.registry.Register(name, h, opts...)
}

// Enqueue encodes input with the engine's codec and enqueues it as a new
// pending item. Arguments that cannot be encoded return
// workpool.ErrInvalidArgument.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, input T, opts ...item.Option) (*item.Item, error) {
	payload, err := eng.codec.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: encode arguments for %q: %v", workpool.ErrInvalidArgument, name, err)
	}
	return eng.EnqueueRaw(ctx, name, payload, opts...)
}

// EnqueueRaw enqueues an item with a pre-encoded payload. Options
// registered with the handler's definition apply first, then opts.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...item.Option) (*item.Item, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", workpool.ErrInvalidArgument)
	}

	o := item.Resolve(eng.registry.Options(name), opts...)
	if o.PoolKey == "" {
		return nil, fmt.Errorf("%w: pool key is required", workpool.ErrInvalidArgument)
	}
	if !eng.pools.Has(o.PoolKey) {
		return nil, fmt.Errorf("%w: %q", workpool.ErrPoolUnknown, o.PoolKey)
	}
	if o.MaxAttempts < 0 {
		return nil, fmt.Errorf("%w: max attempts must not be negative", workpool.ErrInvalidArgument)
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = eng.config.DefaultMaxAttempts
	}

	ent := workpool.NewEntity()
	now := ent.CreatedAt
	it := &item.Item{
		Entity:         ent,
		ID:             o.ID,
		Name:           name,
		Payload:        payload,
		PoolKey:        o.PoolKey,
		Priority:       o.Priority,
		State:          item.StatePending,
		MaxAttempts:    o.MaxAttempts,
		EnqueuedAt:     now,
		NextEligibleAt: now,
	}
	if it.ID.IsNil() {
		it.ID = id.NewItemID()
	}
	if o.NotBefore.After(now) {
		it.NextEligibleAt = o.NotBefore.UTC()
	}
	if err := it.Validate(); err != nil {
		return nil, err
	}

	if err := eng.store.Enqueue(ctx, it); err != nil {
		return nil, err
	}

	eng.extensions.EmitItemEnqueued(ctx, it)
	eng.pool.Kick()
	return it, nil
}

// Status returns the current snapshot of an item.
func (eng *Engine) Status(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	return eng.notifier.Status(ctx, itemID)
}

// Cancel cancels an item. Pending and claimed items are canceled at once.
// A running item is flagged, its handler context is canceled if it runs in
// this process, and it lands in canceled when the attempt ends; any
// outcome is discarded. Terminal items return workpool.ErrAlreadyTerminal.
func (eng *Engine) Cancel(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	it, err := eng.notifier.Cancel(ctx, itemID)
	if err != nil {
		return nil, err
	}

	switch {
	case it.State == item.StateCanceled:
		eng.extensions.EmitItemCanceled(ctx, it)
	case it.CancelRequested:
		eng.pool.Interrupt(itemID)
	}

	eng.logger.Info("item cancel requested",
		slog.String("item_id", itemID.String()),
		slog.String("state", string(it.State)),
	)
	return it, nil
}

// Await blocks until the item is terminal or ctx is done.
func (eng *Engine) Await(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	return eng.notifier.Await(ctx, itemID)
}

// AwaitResult waits for an item and decodes its result into T. A failed
// item returns an error wrapping workpool.ErrGiveUp whose message carries
// the handler's error verbatim; an item lost with its worker also wraps
// workpool.ErrWorkerLost. A canceled item returns workpool.ErrCanceled.
func AwaitResult[T any](ctx context.Context, eng *Engine, itemID id.ItemID) (T, error) {
	var out T

	it, err := eng.Await(ctx, itemID)
	if err != nil {
		return out, err
	}

	switch it.State {
	case item.StateSucceeded:
		if len(it.Result) == 0 {
			return out, nil
		}
		if err := eng.codec.Unmarshal(it.Result, &out); err != nil {
			return out, fmt.Errorf("decode result of %s: %w", itemID, err)
		}
		return out, nil
	case item.StateCanceled:
		return out, fmt.Errorf("%w: %s", workpool.ErrCanceled, itemID)
	default:
		return out, outcomeError(it)
	}
}

func outcomeError(it *item.Item) error {
	if it.Error == workpool.ErrWorkerLost.Error() {
		return fmt.Errorf("%w: %w", workpool.ErrGiveUp, workpool.ErrWorkerLost)
	}
	return fmt.Errorf("%w: %w", workpool.ErrGiveUp, errors.New(it.Error))
}

// OnComplete calls fn once the item is terminal. fn runs on its own
// goroutine; waiting stops without calling fn when ctx is done.
func (eng *Engine) OnComplete(ctx context.Context, itemID id.ItemID, fn func(*item.Item)) error {
	return eng.notifier.OnComplete(ctx, itemID, fn)
}

// SetPoolLimit changes a pool's concurrency limit at runtime, creating the
// pool if needed. Zero pauses the pool. Lowering a limit never interrupts
// running items; new claims wait until the active count drops below it.
func (eng *Engine) SetPoolLimit(key string, limit int) error {
	if err := eng.pools.SetLimit(key, limit); err != nil {
		return err
	}
	eng.logger.Info("pool limit changed", slog.String("pool", key), slog.Int("limit", limit))
	eng.pool.Kick()
	return nil
}

// SetPoolConfig replaces a pool's limit and claim rate at runtime.
func (eng *Engine) SetPoolConfig(key string, cfg claim.Config) error {
	if err := eng.pools.Set(key, cfg); err != nil {
		return err
	}
	eng.pool.Kick()
	return nil
}

// List returns items matching opts.
func (eng *Engine) List(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	return eng.store.List(ctx, opts)
}

// Replay re-enqueues a failed item as a fresh pending copy.
func (eng *Engine) Replay(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	it, err := eng.dlqService.Replay(ctx, itemID)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitItemEnqueued(ctx, it)
	eng.pool.Kick()
	return it, nil
}

// Reap runs one reaper scan and returns how many items were reclaimed.
// It returns 0 when stale detection is disabled.
func (eng *Engine) Reap(ctx context.Context) (int, error) {
	if eng.reaper == nil {
		return 0, nil
	}
	n, err := eng.reaper.Reap(ctx)
	if n > 0 {
		eng.pool.Kick()
	}
	return n, err
}

// Purge deletes terminal items completed before the cutoff.
func (eng *Engine) Purge(ctx context.Context, before time.Time) (int64, error) {
	return eng.store.PurgeTerminal(ctx, before)
}

// PurgeExpired deletes terminal items older than Config.Retention.
func (eng *Engine) PurgeExpired(ctx context.Context) (int64, error) {
	return eng.janitor.Purge(ctx)
}
