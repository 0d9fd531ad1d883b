// Package config loads deployment configuration for workpool processes.
// It reads a TOML file, overlays WORKPOOL_* environment variables, and
// turns the result into a store and engine options.
//
// Example:
//
//	cfg, err := config.Load("/etc/workpool.toml")
//	if err != nil {
//	    return err
//	}
//	if err := config.FromEnv(&cfg); err != nil {
//	    return err
//	}
//	s, err := config.OpenStore(ctx, cfg.Store, logger)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	opts, err := cfg.EngineOptions()
//	if err != nil {
//	    return err
//	}
//	eng, err := engine.New(s, append(opts, engine.WithLogger(logger))...)
//
// A minimal file:
//
//	codec = "json"
//
//	[store]
//	backend = "postgres"
//	dsn = "postgres://localhost:5432/workpool"
//
//	[engine]
//	poll_interval = "500ms"
//	stale_threshold = "1m"
//	retention = "168h"
//
//	[retry]
//	strategy = "exponential_jitter"
//	base = "1s"
//	max_delay = "1m"
//
//	[pools.email]
//	limit = 4
//	rate_limit = 10.0
package config
