package dlq

import (
	"context"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// Replay enqueues a copy of a failed item as a new pending item. The copy
// gets a fresh ID, zero attempts and the original attempt budget, and is
// eligible immediately. The failed original is left untouched.
func (s *Service) Replay(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	failed, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	ent := workpool.NewEntity()
	now := ent.CreatedAt
	it := &item.Item{
		Entity:         ent,
		ID:             id.NewItemID(),
		Name:           failed.Name,
		Payload:        failed.Payload,
		PoolKey:        failed.PoolKey,
		Priority:       failed.Priority,
		State:          item.StatePending,
		MaxAttempts:    failed.MaxAttempts,
		EnqueuedAt:     now,
		NextEligibleAt: now,
	}

	if err := s.store.Enqueue(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// ReplayAll replays every failed item matching opts and returns the new
// items. Items that disappear mid-way (purged or already discarded) are
// skipped.
func (s *Service) ReplayAll(ctx context.Context, opts ListOpts) ([]*item.Item, error) {
	failed, err := s.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make([]*item.Item, 0, len(failed))
	for _, f := range failed {
		it, err := s.Replay(ctx, f.ID)
		if err != nil {
			if isSkippable(err) {
				continue
			}
			return out, err
		}
		out = append(out, it)
	}
	return out, nil
}
