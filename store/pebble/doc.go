// Package pebblestore provides an embedded, durable implementation of
// store.Store on CockroachDB Pebble.
//
// Items are stored as MessagePack records under "wp/item/{id}". Secondary
// index keys make the ledger queries range scans:
//
//	wp/pending/{pool}\x00{priority}{enqueued_at}{id}  dispatch order
//	wp/active/{pool}\x00{id}                           claimed + running
//	wp/hb/{heartbeat_at}{id}                           stale scan
//	wp/done/{completed_at}{id}                         retention purge
//
// Numeric components are big-endian with the sign bit flipped, so byte
// order equals numeric order. Writes are serialized by a mutex and
// committed as one batch, which makes every transition, including the
// active-limit check, atomic. A Pebble directory is owned by a single
// process; use a networked backend to share a ledger across processes.
//
// Usage:
//
//	s, err := pebblestore.Open(pebblestore.Options{DataDir: "./data"})
package pebblestore
