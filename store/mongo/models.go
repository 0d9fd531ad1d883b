package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// ── Item model ────────────────────────────────────────────────────

type itemModel struct {
	ID              string `bson:"_id"`
	Name            string `bson:"name"`
	Payload         []byte `bson:"payload,omitempty"`
	PoolKey         string `bson:"pool_key"`
	Priority        int    `bson:"priority"`
	State           string `bson:"state"`
	Attempts        int    `bson:"attempts"`
	MaxAttempts     int    `bson:"max_attempts"`
	EnqueuedAt      int64  `bson:"enqueued_at"`
	NextEligibleAt  int64  `bson:"next_eligible_at"`
	HeartbeatAt     *int64 `bson:"heartbeat_at,omitempty"`
	ClaimedAt       *int64 `bson:"claimed_at,omitempty"`
	CompletedAt     *int64 `bson:"completed_at,omitempty"`
	WorkerID        string `bson:"worker_id"`
	Result          []byte `bson:"result,omitempty"`
	Error           string `bson:"error"`
	CancelRequested bool   `bson:"cancel_requested"`
	CreatedAt       int64  `bson:"created_at"`
	UpdatedAt       int64  `bson:"updated_at"`
}

func toItemModel(it *item.Item) *itemModel {
	return &itemModel{
		ID:              it.ID.String(),
		Name:            it.Name,
		Payload:         it.Payload,
		PoolKey:         it.PoolKey,
		Priority:        it.Priority,
		State:           string(it.State),
		Attempts:        it.Attempts,
		MaxAttempts:     it.MaxAttempts,
		EnqueuedAt:      it.EnqueuedAt.UnixNano(),
		NextEligibleAt:  it.NextEligibleAt.UnixNano(),
		HeartbeatAt:     toNanos(it.HeartbeatAt),
		ClaimedAt:       toNanos(it.ClaimedAt),
		CompletedAt:     toNanos(it.CompletedAt),
		WorkerID:        it.WorkerID.String(),
		Result:          it.Result,
		Error:           it.Error,
		CancelRequested: it.CancelRequested,
		CreatedAt:       it.CreatedAt.UnixNano(),
		UpdatedAt:       it.UpdatedAt.UnixNano(),
	}
}

func fromItemModel(m *itemModel) (*item.Item, error) {
	parsedID, err := id.ParseItemID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("workpool/mongo: parse item id %q: %w", m.ID, err)
	}

	it := &item.Item{
		Entity: workpool.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:              parsedID,
		Name:            m.Name,
		Payload:         m.Payload,
		PoolKey:         m.PoolKey,
		Priority:        m.Priority,
		State:           item.State(m.State),
		Attempts:        m.Attempts,
		MaxAttempts:     m.MaxAttempts,
		EnqueuedAt:      fromNanos(m.EnqueuedAt),
		NextEligibleAt:  fromNanos(m.NextEligibleAt),
		HeartbeatAt:     fromNanosPtr(m.HeartbeatAt),
		ClaimedAt:       fromNanosPtr(m.ClaimedAt),
		CompletedAt:     fromNanosPtr(m.CompletedAt),
		Result:          m.Result,
		Error:           m.Error,
		CancelRequested: m.CancelRequested,
	}

	if m.WorkerID != "" {
		it.WorkerID, _ = id.ParseWorkerID(m.WorkerID) //nolint:errcheck // best-effort parse from trusted data
	}

	return it, nil
}

func fromItemModels(models []itemModel) ([]*item.Item, error) {
	items := make([]*item.Item, 0, len(models))
	for i := range models {
		it, err := fromItemModel(&models[i])
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func toNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}
