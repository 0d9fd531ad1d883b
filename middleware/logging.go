package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/workpool/item"
)

// Logging returns middleware that logs the start and outcome of each attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, it *item.Item, next Handler) error {
		logger.Info("item started",
			slog.String("item_name", it.Name),
			slog.String("item_id", it.ID.String()),
			slog.String("pool", it.PoolKey),
			slog.Int("attempt", it.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("item attempt failed",
				slog.String("item_name", it.Name),
				slog.String("item_id", it.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("item attempt succeeded",
				slog.String("item_name", it.Name),
				slog.String("item_id", it.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
