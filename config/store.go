package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/workpool/store"
	"github.com/xraph/workpool/store/memory"
	mongostore "github.com/xraph/workpool/store/mongo"
	pebblestore "github.com/xraph/workpool/store/pebble"
	"github.com/xraph/workpool/store/postgres"
	redisstore "github.com/xraph/workpool/store/redis"
	"github.com/xraph/workpool/store/sqlite"
)

// OpenStore opens the backend sc selects and, when sc.AutoMigrate is
// set, runs its migrations. Closing the returned store also releases any
// client OpenStore created.
func OpenStore(ctx context.Context, sc StoreConfig, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := open(ctx, sc, logger)
	if err != nil {
		return nil, err
	}

	if sc.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("config: migrate %s store: %w", sc.Backend, err)
		}
	}
	logger.Info("store opened", slog.String("backend", sc.Backend))
	return s, nil
}

func open(ctx context.Context, sc StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch sc.Backend {
	case BackendMemory, "":
		return memory.New(), nil

	case BackendPebble:
		return pebblestore.Open(pebblestore.Options{DataDir: sc.DataDir, Logger: logger})

	case BackendPostgres:
		return postgres.New(ctx, sc.DSN, postgres.WithLogger(logger))

	case BackendSQLite:
		return sqlite.Open(sc.DSN, sqlite.WithLogger(logger))

	case BackendRedis:
		opts, err := goredis.ParseURL(sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("config: parse redis dsn: %w", err)
		}
		client := goredis.NewClient(opts)
		return &owned{
			Store:   redisstore.New(client, redisstore.WithLogger(logger)),
			release: client.Close,
		}, nil

	case BackendMongo:
		client, err := mongod.Connect(options.Client().ApplyURI(sc.DSN))
		if err != nil {
			return nil, fmt.Errorf("config: connect mongo: %w", err)
		}
		database := sc.Database
		if database == "" {
			database = "workpool"
		}
		return &owned{
			Store: mongostore.New(client.Database(database), mongostore.WithLogger(logger)),
			release: func() error {
				return client.Disconnect(context.Background())
			},
		}, nil

	default:
		return nil, fmt.Errorf("config: unknown store backend %q", sc.Backend)
	}
}

// owned ties a client's lifetime to a store that does not close it.
type owned struct {
	store.Store
	release func() error
}

func (o *owned) Close() error {
	return errors.Join(o.Store.Close(), o.release())
}
