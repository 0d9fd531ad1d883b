// Package item defines the work item entity, its state machine, typed
// definitions, and the ledger store interface.
//
// # Work Item
//
// An [Item] is a persisted unit of schedulable work. It names a registered
// handler, carries an encoded payload, draws from a named pool's
// concurrency budget, and moves through a small state machine:
//
//	pending → claimed → running → succeeded
//	pending → claimed → running → pending (retry) → claimed → ...
//	pending → claimed → running → failed
//	pending | claimed → canceled
//	running (cancel requested) → canceled
//	claimed | running → pending | failed (reaper)
//
// Eligible pending items are ordered by Priority (lower first), then
// EnqueuedAt, then ID.
//
// # Transitions
//
// Every state change goes through [Store.Transition], a single-item
// compare-and-set: the caller names the state it expects and a [Change]
// describing the new state. The shared [Apply] function holds the rules,
// so every backend enforces identical semantics. A Change with
// ActiveLimit > 0 additionally requires the pool's active count
// (claimed + running) to be below the limit in the same atomic step.
//
// # Defining Work
//
// Use [Definition] with a typed handler. Arguments are encoded with the
// registry's codec at enqueue time and decoded before the handler runs;
// the handler's return value becomes the item result:
//
//	var Resize = item.NewDefinition("resize-image",
//	    func(ctx context.Context, in ResizeInput) (ResizeOutput, error) {
//	        return images.Resize(ctx, in)
//	    },
//	    item.WithPool("images"),
//	)
//
// Register definitions at startup via [RegisterDefinition].
package item
