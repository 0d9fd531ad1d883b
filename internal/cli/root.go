package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/workpool/config"
	"github.com/xraph/workpool/engine"
)

// NewRoot constructs the root command and registers every subcommand.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "workpool",
		Short: "Durable bounded-concurrency work scheduler",
		Long: `workpool manages a durable work ledger.

Item Lifecycle:
  pending → claimed → running → succeeded
                         ↓ (error, attempts left)
                       pending (after backoff)
                         ↓ (attempts exhausted)
                       failed

Commands operate directly on the ledger selected by --config and
WORKPOOL_* environment variables. Handlers run in the processes that
register them; "serve" runs maintenance only.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to a TOML config file")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: text or json")

	root.AddCommand(
		newServeCommand(),
		newEnqueueCommand(),
		newStatusCommand(),
		newCancelCommand(),
		newListCommand(),
		newReplayCommand(),
		newPurgeCommand(),
		newReapCommand(),
	)
	return root
}

// loadConfig reads the config file named by --config, overlays the
// environment and applies the logging flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.FromEnv(&cfg); err != nil {
		return config.Config{}, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	return cfg, cfg.Validate()
}

// newLogger builds the process logger from the log section.
func newLogger(lc config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if lc.Level != "" {
		if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q", lc.Level)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(lc.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", lc.Format)
	}
}

// withEngine opens the configured store, builds an engine that never
// executes items, runs fn and closes the store.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error, extra ...engine.Option) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := config.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	opts = append(opts, engine.WithLogger(logger), engine.WithDispatch(false))
	opts = append(opts, extra...)

	eng, err := engine.New(s, opts...)
	if err != nil {
		return err
	}
	return fn(ctx, eng)
}
