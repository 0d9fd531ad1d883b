// Package ext defines the extension system for Workpool.
//
// Extensions are notified of item lifecycle events and can react to them,
// for example by recording metrics or writing audit logs. Each lifecycle
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnItemSucceeded(ctx context.Context, it *item.Item, elapsed time.Duration) error {
//	    log.Printf("item %s succeeded in %s", it.ID, elapsed)
//	    return nil
//	}
//
// # Item Lifecycle Hooks
//
//   - [ItemEnqueued]: item was accepted into the ledger
//   - [ItemClaimed]: a dispatcher reserved a pool slot for the item
//   - [ItemStarted]: the executor began running the item
//   - [ItemSucceeded]: the item finished successfully
//   - [ItemRetrying]: the item failed and was put back with a delay
//   - [ItemFailed]: the item failed with no attempts remaining
//   - [ItemCanceled]: the item reached the canceled state
//   - [ItemReaped]: the reaper reclaimed the item from a lost worker
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
