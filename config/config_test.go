package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/workpool/codec"
	"github.com/xraph/workpool/config"
	"github.com/xraph/workpool/engine"
	"github.com/xraph/workpool/item"
	"github.com/xraph/workpool/retry"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workpool.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.Store.Backend != config.BackendMemory {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Pools["default"].Limit != 10 {
		t.Fatalf("default pool limit = %d", cfg.Pools["default"].Limit)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Codec != codec.NameJSON {
		t.Fatalf("codec = %q", cfg.Codec)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, `
codec = "msgpack"

[store]
backend = "sqlite"
dsn = "file::memory:?cache=shared"

[engine]
poll_interval = "250ms"
stale_threshold = "2m"
heartbeat_interval = "15s"
retention = "24h"
max_attempts = 7

[retry]
strategy = "linear"
base = "2s"

[pools.email]
limit = 4
rate_limit = 10.0
rate_burst = 5

[pools.reports]
limit = 1
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Codec != "msgpack" || cfg.Store.Backend != "sqlite" {
		t.Fatalf("codec=%q backend=%q", cfg.Codec, cfg.Store.Backend)
	}
	if cfg.Engine.PollInterval != 250*time.Millisecond || cfg.Engine.StaleThreshold != 2*time.Minute {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.ShutdownTimeout != 30*time.Second {
		t.Errorf("unset key lost its default: shutdown_timeout = %v", cfg.Engine.ShutdownTimeout)
	}
	if !cfg.Store.AutoMigrate {
		t.Error("unset key lost its default: auto_migrate")
	}
	if _, ok := cfg.Pools["default"]; ok {
		t.Error("a [pools] table should replace the default pool set")
	}
	if got := cfg.Pools["email"]; got.Limit != 4 || got.RateLimit != 10 || got.RateBurst != 5 {
		t.Errorf("email pool = %+v", got)
	}

	wc := cfg.Workpool()
	if wc.Pools["reports"] != 1 || wc.DefaultMaxAttempts != 7 || wc.Retention != 24*time.Hour {
		t.Errorf("workpool config = %+v", wc)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, `
[engine]
pol_interval = "1s"
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := writeFile(t, `codec = `)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("WORKPOOL_STORE_BACKEND", "redis")
	t.Setenv("WORKPOOL_STORE_DSN", "redis://localhost:6379/0")
	t.Setenv("WORKPOOL_POLL_INTERVAL", "100ms")
	t.Setenv("WORKPOOL_MAX_ATTEMPTS", "9")
	t.Setenv("WORKPOOL_RETRY_JITTER", "0.5")
	t.Setenv("WORKPOOL_STORE_AUTO_MIGRATE", "false")
	t.Setenv("WORKPOOL_POOLS", "email=3, default=0")

	cfg := config.Default()
	if err := config.FromEnv(&cfg); err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.Store.Backend != "redis" || cfg.Store.DSN != "redis://localhost:6379/0" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Engine.PollInterval != 100*time.Millisecond || cfg.Engine.MaxAttempts != 9 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Retry.Jitter != 0.5 || cfg.Store.AutoMigrate {
		t.Errorf("jitter=%v auto_migrate=%v", cfg.Retry.Jitter, cfg.Store.AutoMigrate)
	}
	if cfg.Pools["email"].Limit != 3 || cfg.Pools["default"].Limit != 0 {
		t.Errorf("pools = %+v", cfg.Pools)
	}
}

func TestFromEnv_Malformed(t *testing.T) {
	for name, val := range map[string]string{
		"WORKPOOL_POLL_INTERVAL":      "soon",
		"WORKPOOL_MAX_ATTEMPTS":       "many",
		"WORKPOOL_POOLS":              "email",
		"WORKPOOL_STORE_AUTO_MIGRATE": "perhaps",
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, val)
			cfg := config.Default()
			if err := config.FromEnv(&cfg); err == nil {
				t.Fatalf("expected error for %s=%q", name, val)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "cassandra" }},
		{"postgres without dsn", func(c *config.Config) { c.Store.Backend = config.BackendPostgres }},
		{"pebble without dir", func(c *config.Config) { c.Store.Backend = config.BackendPebble; c.Store.DataDir = "" }},
		{"unknown codec", func(c *config.Config) { c.Codec = "xml" }},
		{"unknown strategy", func(c *config.Config) { c.Retry.Strategy = "fibonacci" }},
		{"negative pool", func(c *config.Config) { c.Pools["default"] = config.PoolConfig{Limit: -1} }},
		{"zero poll", func(c *config.Config) { c.Engine.PollInterval = 0 }},
		{"heartbeat above stale", func(c *config.Config) { c.Engine.HeartbeatInterval = 2 * c.Engine.StaleThreshold }},
		{"zero attempts", func(c *config.Config) { c.Engine.MaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Retry = config.RetryConfig{Strategy: "constant", Base: 3 * time.Second, MaxDelay: 2 * time.Second}

	p, err := cfg.RetryPolicy()
	if err != nil {
		t.Fatalf("RetryPolicy: %v", err)
	}
	if _, ok := p.Strategy.(*retry.Constant); !ok {
		t.Fatalf("strategy = %T", p.Strategy)
	}
	if d := p.Delay(1); d != 2*time.Second {
		t.Fatalf("delay = %v, want capped at 2s", d)
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Codec = codec.NameMsgpack
	cfg.Pools["email"] = config.PoolConfig{Limit: 2, RateLimit: 5}

	opts, err := cfg.EngineOptions()
	if err != nil {
		t.Fatalf("EngineOptions: %v", err)
	}

	s, err := config.OpenStore(context.Background(), cfg.Store, nil)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()

	eng, err := engine.New(s, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if eng.Codec().Name() != codec.NameMsgpack {
		t.Errorf("codec = %s", eng.Codec().Name())
	}
	pc, ok := eng.Pools().Config("email")
	if !ok || pc.Limit != 2 || pc.RateLimit != 5 {
		t.Errorf("email pool = %+v, %v", pc, ok)
	}
	if _, err := eng.EnqueueRaw(context.Background(), "x", nil, item.WithPool("email")); err != nil {
		t.Errorf("EnqueueRaw: %v", err)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	tests := []config.StoreConfig{
		{Backend: config.BackendMemory},
		{Backend: config.BackendPebble, DataDir: t.TempDir(), AutoMigrate: true},
		{Backend: config.BackendSQLite, DSN: filepath.Join(t.TempDir(), "workpool.db"), AutoMigrate: true},
	}
	for _, sc := range tests {
		t.Run(sc.Backend, func(t *testing.T) {
			s, err := config.OpenStore(ctx, sc, nil)
			if err != nil {
				t.Fatalf("OpenStore: %v", err)
			}
			if err := s.Ping(ctx); err != nil {
				t.Errorf("Ping: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}

	if _, err := config.OpenStore(ctx, config.StoreConfig{Backend: "cassandra"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
