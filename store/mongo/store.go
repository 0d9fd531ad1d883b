package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/workpool/item"
)

// Collection name constants.
const (
	colItems = "workpool_items"
	colPools = "workpool_pools"
)

// Ensure Store implements the ledger contract at compile time.
var _ item.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store over db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates the indexes of the items collection.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := s.db.Collection(colItems).Indexes().CreateMany(ctx, itemIndexes())
	if err != nil {
		return fmt.Errorf("workpool/mongo: migrate %s indexes: %w", colItems, err)
	}
	s.logger.Debug("ensured indexes", "collection", colItems, "indexes", names)
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

func (s *Store) items() *mongod.Collection {
	return s.db.Collection(colItems)
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return mongod.IsDuplicateKeyError(err) ||
		strings.Contains(err.Error(), "E11000")
}

// itemIndexes returns the index definitions for the items collection.
func itemIndexes() []mongod.IndexModel {
	return []mongod.IndexModel{
		// Dispatch order within a pool.
		{Keys: bson.D{
			{Key: "pool_key", Value: 1},
			{Key: "state", Value: 1},
			{Key: "priority", Value: 1},
			{Key: "enqueued_at", Value: 1},
			{Key: "_id", Value: 1},
		}},
		// Heartbeat index for reaping stale items.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "heartbeat_at", Value: 1},
		}},
		// Retention sweeps.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "completed_at", Value: 1},
		}},
	}
}
