package workpool

import "time"

// Config holds runtime configuration for the worker pool.
type Config struct {
	// Pools is the static pool configuration: pool key to concurrency
	// limit. Pools can also be added at runtime through the engine.
	Pools map[string]int

	// PollInterval is how often idle dispatchers look for eligible work.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running items send heartbeats.
	// It must be well below StaleThreshold.
	HeartbeatInterval time.Duration

	// StaleThreshold is how long a claimed or running item may go without
	// a heartbeat before the reaper reclaims it.
	StaleThreshold time.Duration

	// ReapInterval is how often the reaper scans for stale items.
	// Zero falls back to StaleThreshold.
	ReapInterval time.Duration

	// Retention is how long terminal items are kept before being purged.
	// Zero disables purging.
	Retention time.Duration

	// DefaultMaxAttempts applies to items enqueued without an explicit
	// attempt budget.
	DefaultMaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Pools:              map[string]int{"default": 10},
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleThreshold:     60 * time.Second,
		DefaultMaxAttempts: 5,
	}
}
