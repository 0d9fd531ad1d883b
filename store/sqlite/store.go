package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/store/internal/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ensure Store implements the ledger contract at compile time.
var _ item.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store using the SQLite dialect.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
	owned  bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store over an existing *bun.DB. The caller owns the db
// lifecycle; Close will not close it.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the SQLite database at dsn with a single connection and
// returns a store that owns it.
func Open(dsn string, opts ...Option) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("workpool/sqlite: open %q: %w", dsn, err)
	}
	sqldb.SetMaxOpenConns(1)

	s := New(bun.NewDB(sqldb, sqlitedialect.New()), opts...)
	s.owned = true

	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("workpool/sqlite: set busy timeout: %w", err)
	}
	return s, nil
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate applies the embedded SQL migrations that have not run yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := migrate.Run(ctx, migrationsFS, "migrations", bunRecorder{s.db}, s.logger); err != nil {
		return fmt.Errorf("workpool/sqlite: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database when the store opened it itself.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
