package pebblestore

import (
	"fmt"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/codec"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

var recordCodec = codec.Msgpack{}

// record is the persisted form of an item.
type record struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Payload         []byte     `json:"payload"`
	PoolKey         string     `json:"pool_key"`
	Priority        int        `json:"priority"`
	State           string     `json:"state"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	EnqueuedAt      time.Time  `json:"enqueued_at"`
	NextEligibleAt  time.Time  `json:"next_eligible_at"`
	HeartbeatAt     *time.Time `json:"heartbeat_at"`
	ClaimedAt       *time.Time `json:"claimed_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	WorkerID        string     `json:"worker_id"`
	Result          []byte     `json:"result"`
	Error           string     `json:"error"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func encodeItem(it *item.Item) ([]byte, error) {
	return recordCodec.Marshal(&record{
		ID:              it.ID.String(),
		Name:            it.Name,
		Payload:         it.Payload,
		PoolKey:         it.PoolKey,
		Priority:        it.Priority,
		State:           string(it.State),
		Attempts:        it.Attempts,
		MaxAttempts:     it.MaxAttempts,
		EnqueuedAt:      it.EnqueuedAt,
		NextEligibleAt:  it.NextEligibleAt,
		HeartbeatAt:     it.HeartbeatAt,
		ClaimedAt:       it.ClaimedAt,
		CompletedAt:     it.CompletedAt,
		WorkerID:        it.WorkerID.String(),
		Result:          it.Result,
		Error:           it.Error,
		CancelRequested: it.CancelRequested,
		CreatedAt:       it.CreatedAt,
		UpdatedAt:       it.UpdatedAt,
	})
}

func decodeItem(data []byte) (*item.Item, error) {
	var r record
	if err := recordCodec.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("workpool/pebble: decode item: %w", err)
	}

	itemID, err := id.ParseItemID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("workpool/pebble: parse item id %q: %w", r.ID, err)
	}

	it := &item.Item{
		Entity: workpool.Entity{
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
		},
		ID:              itemID,
		Name:            r.Name,
		Payload:         r.Payload,
		PoolKey:         r.PoolKey,
		Priority:        r.Priority,
		State:           item.State(r.State),
		Attempts:        r.Attempts,
		MaxAttempts:     r.MaxAttempts,
		EnqueuedAt:      r.EnqueuedAt.UTC(),
		NextEligibleAt:  r.NextEligibleAt.UTC(),
		HeartbeatAt:     utcPtr(r.HeartbeatAt),
		ClaimedAt:       utcPtr(r.ClaimedAt),
		CompletedAt:     utcPtr(r.CompletedAt),
		Result:          r.Result,
		Error:           r.Error,
		CancelRequested: r.CancelRequested,
	}
	if r.WorkerID != "" {
		if w, wErr := id.ParseWorkerID(r.WorkerID); wErr == nil {
			it.WorkerID = w
		}
	}
	return it, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
