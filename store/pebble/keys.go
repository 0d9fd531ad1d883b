package pebblestore

import (
	"encoding/binary"
	"time"
)

// Key prefixes for ledger data structures.
const (
	prefixItem    = "wp/item/"
	prefixPending = "wp/pending/"
	prefixActive  = "wp/active/"
	prefixHB      = "wp/hb/"
	prefixDone    = "wp/done/"
)

// itemKey returns the record key.
// Format: wp/item/{id}
func itemKey(itemID string) []byte {
	return []byte(prefixItem + itemID)
}

// pendingPrefix returns the prefix for a pool's dispatch index.
// Format: wp/pending/{pool}\x00
func pendingPrefix(pool string) []byte {
	return []byte(prefixPending + pool + "\x00")
}

// pendingKey returns the dispatch index key. Lower priority values and
// earlier enqueue times sort first, matching item.Less.
// Format: wp/pending/{pool}\x00{priority}{enqueued_at}{id}
func pendingKey(pool string, priority int, enqueuedAt time.Time, itemID string) []byte {
	prefix := pendingPrefix(pool)
	key := make([]byte, 0, len(prefix)+16+len(itemID))
	key = append(key, prefix...)
	key = appendOrdered(key, int64(priority))
	key = appendOrdered(key, enqueuedAt.UnixNano())
	return append(key, itemID...)
}

// activePrefix returns the prefix for a pool's active set.
// Format: wp/active/{pool}\x00
func activePrefix(pool string) []byte {
	return []byte(prefixActive + pool + "\x00")
}

// activeKey returns the active set key.
// Format: wp/active/{pool}\x00{id}
func activeKey(pool, itemID string) []byte {
	return append(activePrefix(pool), itemID...)
}

// hbKey returns the heartbeat index key.
// Format: wp/hb/{heartbeat_at}{id}
func hbKey(at time.Time, itemID string) []byte {
	key := []byte(prefixHB)
	key = appendOrdered(key, at.UnixNano())
	return append(key, itemID...)
}

// doneKey returns the completion index key.
// Format: wp/done/{completed_at}{id}
func doneKey(at time.Time, itemID string) []byte {
	key := []byte(prefixDone)
	key = appendOrdered(key, at.UnixNano())
	return append(key, itemID...)
}

// timeBound returns the exclusive upper bound for entries before t under
// prefix.
func timeBound(prefix string, t time.Time) []byte {
	return appendOrdered([]byte(prefix), t.UnixNano())
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// appendOrdered appends v big-endian with the sign bit flipped so that
// byte order equals signed numeric order.
func appendOrdered(b []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(v)^(1<<63))
}
