package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/xraph/workpool"
	"github.com/xraph/workpool/claim"
	"github.com/xraph/workpool/codec"
	"github.com/xraph/workpool/engine"
	"github.com/xraph/workpool/retry"
)

// Store backend names.
const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

// Config is the top-level deployment configuration.
type Config struct {
	Codec  string                `toml:"codec"`
	Store  StoreConfig           `toml:"store"`
	Engine EngineConfig          `toml:"engine"`
	Retry  RetryConfig           `toml:"retry"`
	Pools  map[string]PoolConfig `toml:"pools"`
	Log    LogConfig             `toml:"log"`
}

// StoreConfig selects and addresses the ledger backend.
type StoreConfig struct {
	// Backend is one of memory, pebble, postgres, sqlite, redis, mongo.
	Backend string `toml:"backend"`
	// DSN is the connection string for postgres, sqlite, redis and mongo.
	DSN string `toml:"dsn"`
	// DataDir is the Pebble data directory.
	DataDir string `toml:"data_dir"`
	// Database is the MongoDB database name.
	Database string `toml:"database"`
	// AutoMigrate runs schema migrations when the store is opened.
	AutoMigrate bool `toml:"auto_migrate"`
}

// EngineConfig mirrors workpool.Config for file and env loading.
type EngineConfig struct {
	PollInterval      time.Duration `toml:"poll_interval"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`
	StaleThreshold    time.Duration `toml:"stale_threshold"`
	ReapInterval      time.Duration `toml:"reap_interval"`
	Retention         time.Duration `toml:"retention"`
	MaxAttempts       int           `toml:"max_attempts"`
	MaxInFlight       int           `toml:"max_in_flight"`
}

// RetryConfig selects the backoff strategy.
type RetryConfig struct {
	// Strategy is constant, linear, exponential or exponential_jitter.
	Strategy string        `toml:"strategy"`
	Base     time.Duration `toml:"base"`
	MaxDelay time.Duration `toml:"max_delay"`
	Jitter   float64       `toml:"jitter"`
}

// PoolConfig is the budget of one pool.
type PoolConfig struct {
	Limit     int     `toml:"limit"`
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`
	// Format is text or json.
	Format string `toml:"format"`
}

// Default returns built-in defaults: an in-memory store, JSON payloads,
// one "default" pool of ten, and the engine's default timings.
func Default() Config {
	wc := workpool.DefaultConfig()
	return Config{
		Codec: codec.NameJSON,
		Store: StoreConfig{
			Backend:     BackendMemory,
			DataDir:     "./data",
			Database:    "workpool",
			AutoMigrate: true,
		},
		Engine: EngineConfig{
			PollInterval:      wc.PollInterval,
			ShutdownTimeout:   wc.ShutdownTimeout,
			HeartbeatInterval: wc.HeartbeatInterval,
			StaleThreshold:    wc.StaleThreshold,
			ReapInterval:      wc.ReapInterval,
			Retention:         wc.Retention,
			MaxAttempts:       wc.DefaultMaxAttempts,
		},
		Retry: RetryConfig{
			Strategy: "exponential_jitter",
			Base:     time.Second,
			MaxDelay: time.Minute,
			Jitter:   0.2,
		},
		Pools: map[string]PoolConfig{"default": {Limit: 10}},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults. Keys the file does not set keep their default values; a
// [pools] table replaces the default pool set.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var pools struct {
		Pools map[string]PoolConfig `toml:"pools"`
	}
	if _, err := toml.Decode(string(data), &pools); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if pools.Pools != nil {
		cfg.Pools = nil
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.Store.DataDir == "" {
			return errors.New("config: store.data_dir is required for pebble")
		}
	case BackendPostgres, BackendSQLite, BackendRedis, BackendMongo:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for %s", c.Store.Backend)
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	if _, err := codec.Lookup(c.Codec); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.RetryPolicy(); err != nil {
		return err
	}

	for _, key := range c.PoolKeys() {
		p := c.Pools[key]
		if p.Limit < 0 || p.RateLimit < 0 || p.RateBurst < 0 {
			return fmt.Errorf("config: pool %q: negative value", key)
		}
	}

	e := c.Engine
	if e.PollInterval <= 0 {
		return errors.New("config: engine.poll_interval must be positive")
	}
	if e.StaleThreshold > 0 && e.HeartbeatInterval >= e.StaleThreshold {
		return errors.New("config: engine.heartbeat_interval must be below engine.stale_threshold")
	}
	if e.MaxAttempts < 1 {
		return errors.New("config: engine.max_attempts must be at least 1")
	}
	if e.Retention < 0 {
		return errors.New("config: engine.retention must not be negative")
	}
	return nil
}

// PoolKeys returns the configured pool keys in sorted order.
func (c Config) PoolKeys() []string {
	keys := make([]string, 0, len(c.Pools))
	for k := range c.Pools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Workpool converts the engine section to a workpool.Config.
func (c Config) Workpool() workpool.Config {
	pools := make(map[string]int, len(c.Pools))
	for key, p := range c.Pools {
		pools[key] = p.Limit
	}
	return workpool.Config{
		Pools:              pools,
		PollInterval:       c.Engine.PollInterval,
		ShutdownTimeout:    c.Engine.ShutdownTimeout,
		HeartbeatInterval:  c.Engine.HeartbeatInterval,
		StaleThreshold:     c.Engine.StaleThreshold,
		ReapInterval:       c.Engine.ReapInterval,
		Retention:          c.Engine.Retention,
		DefaultMaxAttempts: c.Engine.MaxAttempts,
	}
}

// RetryPolicy builds the retry policy of the retry section.
func (c Config) RetryPolicy() (retry.Policy, error) {
	strategy, ok := retry.ParseStrategy(c.Retry.Strategy, c.Retry.Base, c.Retry.Jitter)
	if !ok {
		return retry.Policy{}, fmt.Errorf("config: unknown retry strategy %q", c.Retry.Strategy)
	}
	if c.Retry.MaxDelay < 0 {
		return retry.Policy{}, errors.New("config: retry.max_delay must not be negative")
	}
	return retry.Policy{Strategy: strategy, MaxDelay: c.Retry.MaxDelay}, nil
}

// EngineOptions returns the engine options the configuration describes.
func (c Config) EngineOptions() ([]engine.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cd, err := codec.Lookup(c.Codec)
	if err != nil {
		return nil, err
	}
	policy, err := c.RetryPolicy()
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithConfig(c.Workpool()),
		engine.WithCodec(cd),
		engine.WithRetryPolicy(policy),
	}
	if c.Engine.MaxInFlight > 0 {
		opts = append(opts, engine.WithMaxInFlight(c.Engine.MaxInFlight))
	}
	for _, key := range c.PoolKeys() {
		p := c.Pools[key]
		if p.RateLimit > 0 {
			opts = append(opts, engine.WithPoolConfig(key, claim.Config{
				Limit:     p.Limit,
				RateLimit: p.RateLimit,
				RateBurst: p.RateBurst,
			}))
		}
	}
	return opts, nil
}
