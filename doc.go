// Package workpool provides a durable, bounded-concurrency work scheduler
// for Go. Units of work are persisted in a ledger, dispatched to at most N
// concurrent executors per pool, retried with backoff on failure, and
// reclaimed by a reaper when the executing process disappears.
//
// Workpool is a library, not a service. Import it, configure a store, and
// register work functions as ordinary Go functions.
//
// # Quick Start
//
//	s, _ := pebblestore.Open(pebblestore.Options{DataDir: "./data"})
//
//	eng, err := engine.New(s,
//	    engine.WithPool("email", 4),
//	    engine.WithPool("reports", 1),
//	)
//
//	engine.Register(eng, SendEmail)
//	it, err := engine.Enqueue(ctx, eng, "send-email", input, item.WithPool("email"))
//	done, err := eng.Await(ctx, it.ID)
//
// # Architecture
//
// The ledger (item.Store) is the single source of truth and the only
// shared mutable resource. Every state change is a single-item
// compare-and-set. The per-pool concurrency budget is derived from the
// ledger (count of claimed and running items) and checked in the same
// atomic step as the claim, so any number of worker processes can share
// one ledger without a distributed lock.
//
// All entity IDs are prefix-qualified TypeIDs, K-sortable by
// creation time.
package workpool
