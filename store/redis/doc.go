// Package redis implements store.Store on Redis.
//
// Each item is a JSON document under its own key. Secondary structures
// keep the hot paths off full scans:
//
//   - a sorted set of pending IDs per pool, scored by eligibility time
//   - a set of claimed or running IDs per pool
//   - a sorted set of active IDs scored by heartbeat
//   - a sorted set of terminal IDs scored by completion time
//   - a lexically ordered sorted set of every ID
//
// Mutations use optimistic WATCH/MULTI transactions on the item key. A
// claim under an active limit also watches the pool's active set, so two
// workers racing for the last slot cannot both commit. Transactions that
// lose a race are retried a bounded number of times.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
