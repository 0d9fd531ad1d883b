package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/workpool/item"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace, so they
// flow through the retry policy like any other failed attempt.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, it *item.Item, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("item handler panicked",
					slog.String("item_name", it.Name),
					slog.String("item_id", it.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in item %s: %v", it.Name, r)
			}
		}()
		return next(ctx)
	}
}
