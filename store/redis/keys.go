package redis

// Redis key naming conventions for workpool data.
// All keys are prefixed with "workpool:" to avoid collisions.

const keyPrefix = "workpool:"

// itemKey returns the key for an item document: workpool:item:{id}
func itemKey(id string) string { return keyPrefix + "item:" + id }

// pendingKey returns the Sorted Set of pending IDs for a pool, scored by
// NextEligibleAt in Unix milliseconds: workpool:pending:{pool}
func pendingKey(pool string) string { return keyPrefix + "pending:" + pool }

// activeKey returns the Set of claimed or running IDs for a pool:
// workpool:active:{pool}
func activeKey(pool string) string { return keyPrefix + "active:" + pool }

// heartbeatsKey is the Sorted Set of active IDs scored by heartbeat.
const heartbeatsKey = keyPrefix + "heartbeats"

// doneKey is the Sorted Set of terminal IDs scored by completion time.
const doneKey = keyPrefix + "done"

// idsKey is the Sorted Set tracking all item IDs. Every member has score
// zero so the set iterates in ID order.
const idsKey = keyPrefix + "item_ids"
