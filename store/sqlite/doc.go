// Package sqlite implements store.Store on SQLite using the Bun ORM.
//
// Timestamps are stored as INTEGER Unix nanoseconds so range predicates
// compare numerically. Transitions run inside a Bun transaction that
// reads, applies and writes the item; SQLite transactions are
// serializable, so the active-limit count and the claim commit together
// or not at all. [Open] limits the pool to one connection, which
// serializes writers within a process instead of surfacing SQLITE_BUSY.
//
// Usage:
//
//	s, err := sqlite.Open("file:workpool.db")
package sqlite
