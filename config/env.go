package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays WORKPOOL_* environment variables onto cfg. Unset or
// empty variables leave cfg unchanged; malformed values return an error
// naming the variable.
//
// WORKPOOL_POOLS takes a comma-separated list of key=limit pairs and
// replaces the configured pool limits for the keys it names.
func FromEnv(cfg *Config) error {
	strs := map[string]*string{
		"WORKPOOL_CODEC":          &cfg.Codec,
		"WORKPOOL_STORE_BACKEND":  &cfg.Store.Backend,
		"WORKPOOL_STORE_DSN":      &cfg.Store.DSN,
		"WORKPOOL_STORE_DATA_DIR": &cfg.Store.DataDir,
		"WORKPOOL_STORE_DATABASE": &cfg.Store.Database,
		"WORKPOOL_RETRY_STRATEGY": &cfg.Retry.Strategy,
		"WORKPOOL_LOG_LEVEL":      &cfg.Log.Level,
		"WORKPOOL_LOG_FORMAT":     &cfg.Log.Format,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"WORKPOOL_POLL_INTERVAL":      &cfg.Engine.PollInterval,
		"WORKPOOL_SHUTDOWN_TIMEOUT":   &cfg.Engine.ShutdownTimeout,
		"WORKPOOL_HEARTBEAT_INTERVAL": &cfg.Engine.HeartbeatInterval,
		"WORKPOOL_STALE_THRESHOLD":    &cfg.Engine.StaleThreshold,
		"WORKPOOL_REAP_INTERVAL":      &cfg.Engine.ReapInterval,
		"WORKPOOL_RETENTION":          &cfg.Engine.Retention,
		"WORKPOOL_RETRY_BASE":         &cfg.Retry.Base,
		"WORKPOOL_RETRY_MAX_DELAY":    &cfg.Retry.MaxDelay,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"WORKPOOL_MAX_ATTEMPTS":  &cfg.Engine.MaxAttempts,
		"WORKPOOL_MAX_IN_FLIGHT": &cfg.Engine.MaxInFlight,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("WORKPOOL_STORE_AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: WORKPOOL_STORE_AUTO_MIGRATE: %w", err)
		}
		cfg.Store.AutoMigrate = b
	}
	if v := os.Getenv("WORKPOOL_RETRY_JITTER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: WORKPOOL_RETRY_JITTER: %w", err)
		}
		cfg.Retry.Jitter = f
	}
	if v := os.Getenv("WORKPOOL_POOLS"); v != "" {
		limits, err := parsePools(v)
		if err != nil {
			return fmt.Errorf("config: WORKPOOL_POOLS: %w", err)
		}
		if cfg.Pools == nil {
			cfg.Pools = make(map[string]PoolConfig, len(limits))
		}
		for key, limit := range limits {
			p := cfg.Pools[key]
			p.Limit = limit
			cfg.Pools[key] = p
		}
	}
	return nil
}

// parsePools parses "email=4,default=10".
func parsePools(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=limit, got %q", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("pool %q: %w", key, err)
		}
		out[key] = n
	}
	return out, nil
}
