package dlq

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// ListOpts controls pagination and filtering of failed items.
type ListOpts struct {
	// Limit is the maximum number of items to return. Zero means no limit.
	Limit int
	// Offset is the number of items to skip.
	Offset int
	// PoolKey filters by pool. Empty means all pools.
	PoolKey string
	// Name filters by handler name. Empty means all names.
	Name string
}

// Service provides dead letter operations over the ledger.
type Service struct {
	store item.Store
}

// NewService creates a dead letter service.
func NewService(store item.Store) *Service {
	return &Service{store: store}
}

// List returns failed items, oldest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*item.Item, error) {
	return s.store.List(ctx, item.ListOpts{
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		PoolKey: opts.PoolKey,
		Name:    opts.Name,
		State:   item.StateFailed,
	})
}

// Count returns the number of failed items in poolKey, or in all pools
// when poolKey is empty.
func (s *Service) Count(ctx context.Context, poolKey string) (int64, error) {
	return s.store.Count(ctx, item.CountOpts{PoolKey: poolKey, State: item.StateFailed})
}

// Get returns a failed item. Items in any other state return
// workpool.ErrItemNotFound.
func (s *Service) Get(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	it, err := s.store.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.State != item.StateFailed {
		return nil, fmt.Errorf("%w: item %s is %s, not failed", workpool.ErrItemNotFound, itemID, it.State)
	}
	return it, nil
}

// Discard deletes a failed item without replaying it.
func (s *Service) Discard(ctx context.Context, itemID id.ItemID) error {
	if _, err := s.Get(ctx, itemID); err != nil {
		return err
	}
	return s.store.Delete(ctx, itemID)
}

// isSkippable reports errors that a bulk operation steps over.
func isSkippable(err error) bool {
	return errors.Is(err, workpool.ErrItemNotFound)
}
