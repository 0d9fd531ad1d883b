// Package postgres implements store.Store on PostgreSQL using pgx/v5.
//
// Every transition runs in a transaction that locks the item row with
// SELECT ... FOR UPDATE. Claims that carry an active limit also take a
// transaction-scoped advisory lock keyed by the pool, so the count of
// claimed and running items and the claim itself are serialized per pool
// across all processes.
package postgres
