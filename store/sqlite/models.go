package sqlite

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// ── Item model ────────────────────────────────────────────────────

type itemModel struct {
	bun.BaseModel `bun:"table:workpool_items"`

	ID              string `bun:"id,pk"`
	Name            string `bun:"name,notnull"`
	Payload         []byte `bun:"payload"`
	PoolKey         string `bun:"pool_key,notnull"`
	Priority        int    `bun:"priority,notnull"`
	State           string `bun:"state,notnull"`
	Attempts        int    `bun:"attempts,notnull"`
	MaxAttempts     int    `bun:"max_attempts,notnull"`
	EnqueuedAt      int64  `bun:"enqueued_at,notnull"`
	NextEligibleAt  int64  `bun:"next_eligible_at,notnull"`
	HeartbeatAt     *int64 `bun:"heartbeat_at"`
	ClaimedAt       *int64 `bun:"claimed_at"`
	CompletedAt     *int64 `bun:"completed_at"`
	WorkerID        string `bun:"worker_id,notnull"`
	Result          []byte `bun:"result"`
	Error           string `bun:"error,notnull"`
	CancelRequested bool   `bun:"cancel_requested,notnull"`
	CreatedAt       int64  `bun:"created_at,notnull"`
	UpdatedAt       int64  `bun:"updated_at,notnull"`
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
		return nil, fmt.Errorf("workpool/sqlite: parse item id %q: %w", m.ID, err)
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
		parsedWorker, wErr := id.ParseWorkerID(m.WorkerID)
		if wErr == nil {
			it.WorkerID = parsedWorker
		}
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
