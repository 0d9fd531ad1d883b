package item

import (
	"time"

	"github.com/xraph/workpool/id"
)

// DefaultPool is the pool used when none is given.
const DefaultPool = "default"

// Options configures how an item is enqueued.
type Options struct {
	// ID overrides the generated item ID. Enqueueing the same ID twice
	// returns workpool.ErrItemAlreadyExists, which makes enqueue
	// idempotent for callers that derive IDs from their own keys.
	ID id.ItemID

	// PoolKey is the concurrency budget the item draws from.
	PoolKey string

	// Priority orders dispatch within a pool. Lower values run first.
	Priority int

	// MaxAttempts bounds execution attempts. Zero uses the engine default.
	MaxAttempts int

	// NotBefore delays the first claim. Zero means immediately.
	NotBefore time.Time
}

// DefaultOptions returns Options for the default pool.
func DefaultOptions() Options {
	return Options{PoolKey: DefaultPool}
}

// Option is a functional option for enqueueing and definitions.
type Option func(*Options)

// WithID sets a caller-chosen item ID.
func WithID(itemID id.ItemID) Option {
	return func(o *Options) {
		o.ID = itemID
	}
}

// WithPool sets the pool key.
func WithPool(poolKey string) Option {
	return func(o *Options) {
		o.PoolKey = poolKey
	}
}

// WithPriority sets the priority. Lower values are dispatched first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithNotBefore delays the item until t.
func WithNotBefore(t time.Time) Option {
	return func(o *Options) {
		o.NotBefore = t
	}
}

// WithDelay delays the item by d from now.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.NotBefore = time.Now().UTC().Add(d)
	}
}

// Resolve applies opts over base.
func Resolve(base Options, opts ...Option) Options {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}
