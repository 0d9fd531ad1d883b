package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/workpool/engine"
	"github.com/xraph/workpool/id"
	"github.com/xraph/workpool/item"
)

// newEnqueueCommand constructs the `enqueue` command.
func newEnqueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue NAME",
		Short: "Enqueue a work item",
		Long: `Enqueue a work item for handler NAME.

--data takes a JSON document; it is re-encoded with the configured codec
before it is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			pool, _ := cmd.Flags().GetString("pool")
			priority, _ := cmd.Flags().GetInt("priority")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			delay, _ := cmd.Flags().GetDuration("delay")
			rawID, _ := cmd.Flags().GetString("id")

			var input any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &input); err != nil {
					return fmt.Errorf("--data is not valid JSON: %w", err)
				}
			}

			opts := []item.Option{item.WithPriority(priority)}
			if pool != "" {
				opts = append(opts, item.WithPool(pool))
			}
			if maxAttempts > 0 {
				opts = append(opts, item.WithMaxAttempts(maxAttempts))
			}
			if delay > 0 {
				opts = append(opts, item.WithDelay(delay))
			}
			if rawID != "" {
				itemID, err := id.ParseItemID(rawID)
				if err != nil {
					return err
				}
				opts = append(opts, item.WithID(itemID))
			}

			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				var (
					it  *item.Item
					err error
				)
				if input == nil {
					it, err = eng.EnqueueRaw(ctx, args[0], nil, opts...)
				} else {
					it, err = engine.Enqueue(ctx, eng, args[0], input, opts...)
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), it.ID.String())
				return nil
			})
		},
	}
	cmd.Flags().String("data", "", "JSON payload")
	cmd.Flags().String("pool", "", "Pool key (default: the handler's pool or \"default\")")
	cmd.Flags().Int("priority", 0, "Priority; lower runs first")
	cmd.Flags().Int("max-attempts", 0, "Attempt budget (default: engine.max_attempts)")
	cmd.Flags().Duration("delay", 0, "Earliest start, relative to now")
	cmd.Flags().String("id", "", "Explicit item id (item_<typeid suffix>)")
	return cmd
}

// newStatusCommand constructs the `status` command.
func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Show the state of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := id.ParseItemID(args[0])
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")

			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				it, err := eng.Status(ctx, itemID)
				if err != nil {
					return err
				}
				return printItem(cmd.OutOrStdout(), eng.Codec(), it, output)
			})
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format: text or json")
	return cmd
}

// newCancelCommand constructs the `cancel` command.
func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an item",
		Long: `Cancel an item. Pending and claimed items are canceled at once; a
running item is flagged and lands in canceled when its worker notices.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := id.ParseItemID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				it, err := eng.Cancel(ctx, itemID)
				if err != nil {
					return err
				}
				state := string(it.State)
				if it.CancelRequested && it.State == item.StateRunning {
					state = "cancel requested"
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", state)
				return nil
			})
		},
	}
}

// newListCommand constructs the `list` command.
func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, _ := cmd.Flags().GetString("pool")
			rawState, _ := cmd.Flags().GetString("state")
			name, _ := cmd.Flags().GetString("name")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			output, _ := cmd.Flags().GetString("output")

			opts := item.ListOpts{Limit: limit, Offset: offset, PoolKey: pool, Name: name}
			if rawState != "" {
				st, err := item.ParseState(rawState)
				if err != nil {
					return err
				}
				opts.State = st
			}

			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				items, err := eng.List(ctx, opts)
				if err != nil {
					return err
				}
				return printItems(cmd.OutOrStdout(), items, output)
			})
		},
	}
	cmd.Flags().String("pool", "", "Filter by pool")
	cmd.Flags().String("state", "", "Filter by state")
	cmd.Flags().String("name", "", "Filter by handler name")
	cmd.Flags().Int("limit", 50, "Maximum items to show")
	cmd.Flags().Int("offset", 0, "Items to skip")
	cmd.Flags().StringP("output", "o", "text", "Output format: text or json")
	return cmd
}

// newReplayCommand constructs the `replay` command.
func newReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [ID]",
		Short: "Re-enqueue failed items as fresh pending copies",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			pool, _ := cmd.Flags().GetString("pool")
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either an item id or --all")
			}

			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				out := cmd.OutOrStdout()
				if !all {
					itemID, err := id.ParseItemID(args[0])
					if err != nil {
						return err
					}
					it, err := eng.Replay(ctx, itemID)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintln(out, it.ID.String())
					return nil
				}

				failed, err := eng.List(ctx, item.ListOpts{State: item.StateFailed, PoolKey: pool})
				if err != nil {
					return err
				}
				for _, f := range failed {
					it, err := eng.Replay(ctx, f.ID)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintln(out, it.ID.String())
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("all", false, "Replay every failed item")
	cmd.Flags().String("pool", "", "With --all, only replay this pool")
	return cmd
}

// newPurgeCommand constructs the `purge` command.
func newPurgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete terminal items older than a cutoff",
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")

			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				age := olderThan
				if age <= 0 {
					age = eng.Config().Retention
				}
				if age <= 0 {
					return fmt.Errorf("set --older-than or engine.retention")
				}
				n, err := eng.Purge(ctx, time.Now().UTC().Add(-age))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "purged:", n)
				return nil
			})
		},
	}
	cmd.Flags().Duration("older-than", 0, "Minimum age of purged items (default: engine.retention)")
	return cmd
}

// newReapCommand constructs the `reap` command.
func newReapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Reclaim stale claimed and running items once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				n, err := eng.Reap(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "reaped:", n)
				return nil
			})
		},
	}
}
