package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/workpool/item"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type itemEnqueuedEntry struct {
	name string
	hook ItemEnqueued
}

type itemClaimedEntry struct {
	name string
	hook ItemClaimed
}

type itemStartedEntry struct {
	name string
	hook ItemStarted
}

type itemSucceededEntry struct {
	name string
	hook ItemSucceeded
}

type itemRetryingEntry struct {
	name string
	hook ItemRetrying
}

type itemFailedEntry struct {
	name string
	hook ItemFailed
}

type itemCanceledEntry struct {
	name string
	hook ItemCanceled
}

type itemReapedEntry struct {
	name string
	hook ItemReaped
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the engine starts; emits are not
// synchronized with Register.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	itemEnqueued  []itemEnqueuedEntry
	itemClaimed   []itemClaimedEntry
	itemStarted   []itemStartedEntry
	itemSucceeded []itemSucceededEntry
	itemRetrying  []itemRetryingEntry
	itemFailed    []itemFailedEntry
	itemCanceled  []itemCanceledEntry
	itemReaped    []itemReapedEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ItemEnqueued); ok {
		r.itemEnqueued = append(r.itemEnqueued, itemEnqueuedEntry{name, h})
	}
	if h, ok := e.(ItemClaimed); ok {
		r.itemClaimed = append(r.itemClaimed, itemClaimedEntry{name, h})
	}
	if h, ok := e.(ItemStarted); ok {
		r.itemStarted = append(r.itemStarted, itemStartedEntry{name, h})
	}
	if h, ok := e.(ItemSucceeded); ok {
		r.itemSucceeded = append(r.itemSucceeded, itemSucceededEntry{name, h})
	}
	if h, ok := e.(ItemRetrying); ok {
		r.itemRetrying = append(r.itemRetrying, itemRetryingEntry{name, h})
	}
	if h, ok := e.(ItemFailed); ok {
		r.itemFailed = append(r.itemFailed, itemFailedEntry{name, h})
	}
	if h, ok := e.(ItemCanceled); ok {
		r.itemCanceled = append(r.itemCanceled, itemCanceledEntry{name, h})
	}
	if h, ok := e.(ItemReaped); ok {
		r.itemReaped = append(r.itemReaped, itemReapedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Item event emitters
// ──────────────────────────────────────────────────

// EmitItemEnqueued notifies all extensions that implement ItemEnqueued.
func (r *Registry) EmitItemEnqueued(ctx context.Context, it *item.Item) {
	for _, e := range r.itemEnqueued {
		if err := e.hook.OnItemEnqueued(ctx, it); err != nil {
			r.logHookError("OnItemEnqueued", e.name, err)
		}
	}
}

// EmitItemClaimed notifies all extensions that implement ItemClaimed.
func (r *Registry) EmitItemClaimed(ctx context.Context, it *item.Item) {
	for _, e := range r.itemClaimed {
		if err := e.hook.OnItemClaimed(ctx, it); err != nil {
			r.logHookError("OnItemClaimed", e.name, err)
		}
	}
}

// EmitItemStarted notifies all extensions that implement ItemStarted.
func (r *Registry) EmitItemStarted(ctx context.Context, it *item.Item) {
	for _, e := range r.itemStarted {
		if err := e.hook.OnItemStarted(ctx, it); err != nil {
			r.logHookError("OnItemStarted", e.name, err)
		}
	}
}

// EmitItemSucceeded notifies all extensions that implement ItemSucceeded.
func (r *Registry) EmitItemSucceeded(ctx context.Context, it *item.Item, elapsed time.Duration) {
	for _, e := range r.itemSucceeded {
		if err := e.hook.OnItemSucceeded(ctx, it, elapsed); err != nil {
			r.logHookError("OnItemSucceeded", e.name, err)
		}
	}
}

// EmitItemRetrying notifies all extensions that implement ItemRetrying.
func (r *Registry) EmitItemRetrying(ctx context.Context, it *item.Item, itemErr error, nextEligibleAt time.Time) {
	for _, e := range r.itemRetrying {
		if err := e.hook.OnItemRetrying(ctx, it, itemErr, nextEligibleAt); err != nil {
			r.logHookError("OnItemRetrying", e.name, err)
		}
	}
}

// EmitItemFailed notifies all extensions that implement ItemFailed.
func (r *Registry) EmitItemFailed(ctx context.Context, it *item.Item, itemErr error) {
	for _, e := range r.itemFailed {
		if err := e.hook.OnItemFailed(ctx, it, itemErr); err != nil {
			r.logHookError("OnItemFailed", e.name, err)
		}
	}
}

// EmitItemCanceled notifies all extensions that implement ItemCanceled.
func (r *Registry) EmitItemCanceled(ctx context.Context, it *item.Item) {
	for _, e := range r.itemCanceled {
		if err := e.hook.OnItemCanceled(ctx, it); err != nil {
			r.logHookError("OnItemCanceled", e.name, err)
		}
	}
}

// EmitItemReaped notifies all extensions that implement ItemReaped.
func (r *Registry) EmitItemReaped(ctx context.Context, it *item.Item) {
	for _, e := range r.itemReaped {
		if err := e.hook.OnItemReaped(ctx, it); err != nil {
			r.logHookError("OnItemReaped", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
