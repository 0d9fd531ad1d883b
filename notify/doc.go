// Package notify lets callers wait for work items to reach a terminal
// state.
//
// A [Notifier] is registered as an engine extension, so items finished by
// executors in this process wake their waiters immediately. Items
// finished by other processes sharing the ledger are picked up by a slow
// store poll, which is the only polling the notifier does.
//
//	n := notify.New(store)
//	done, err := n.Await(ctx, itemID)
//
//	n.OnComplete(ctx, itemID, func(it *item.Item) {
//	    log.Println("finished", it.State)
//	})
package notify
