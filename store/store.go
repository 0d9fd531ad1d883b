package store

import (
	"context"

	"github.com/xraph/workpool/item"
)

// Store is the aggregate persistence interface: the item ledger plus
// lifecycle operations. A single backend implements all of it.
type Store interface {
	item.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
