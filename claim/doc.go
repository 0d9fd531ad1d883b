// Package claim reserves pending items for execution without exceeding a
// pool's concurrency budget.
//
// [Pools] holds the runtime pool configuration: a concurrency limit and an
// optional token-bucket rate limit per pool key. It is not persisted.
//
// [Coordinator] performs one dispatch step for a pool: if the ledger's
// derived active count is below the limit it lists eligible items in
// dispatch order and compare-and-sets the head from pending to claimed,
// passing the limit so the store rechecks it atomically. An item taken by
// another dispatcher is skipped; a pool that filled up in the meantime
// ends the step. Neither case is reported to the caller.
package claim
