// Package dlq inspects and replays work items that failed terminally.
//
// A failed item stays in the ledger with its payload, final error text
// and attempt count, so the dead letter view is a filter over
// item.Store rather than a separate table. Replay enqueues a fresh copy
// with a new ID and a full attempt budget; the failed original is kept
// for audit until the retention janitor purges it.
//
//	svc := dlq.NewService(store)
//
//	failed, _ := svc.List(ctx, dlq.ListOpts{PoolKey: "email", Limit: 50})
//	replayed, _ := svc.Replay(ctx, failed[0].ID)
package dlq
